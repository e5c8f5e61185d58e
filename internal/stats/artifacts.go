package stats

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"falsifier/internal/model"
)

const (
	runIndexFile      = "run_index.json"
	summaryFile       = "summary.json"
	roundsFile        = "rounds.jsonl"
	feedbackCSVFile   = "feedback_series.csv"
	scenarioCopyFile  = "scenario.yaml"
	maxRoundLineBytes = 4 << 20
)

type RunIndexEntry struct {
	RunID        string   `json:"run_id"`
	Scenario     string   `json:"scenario"`
	Workers      int      `json:"workers"`
	Rounds       int      `json:"rounds"`
	Falsified    int      `json:"falsified"`
	BestFeedback *float64 `json:"best_feedback,omitempty"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// WriteRunArtifacts writes summary.json, rounds.jsonl and the feedback series
// under baseDir/<run id> and returns that directory.
func WriteRunArtifacts(baseDir string, summary model.RunSummary, records []model.RoundRecord) (string, error) {
	if strings.TrimSpace(summary.RunID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, summary.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, summaryFile), summary); err != nil {
		return "", err
	}
	if err := writeRounds(filepath.Join(runDir, roundsFile), records); err != nil {
		return "", err
	}
	if err := writeFeedbackSeries(filepath.Join(runDir, feedbackCSVFile), records); err != nil {
		return "", err
	}
	if summary.ScenarioPath != "" {
		if err := copyFile(summary.ScenarioPath, filepath.Join(runDir, scenarioCopyFile)); err != nil {
			return "", fmt.Errorf("copy scenario: %w", err)
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

// IndexEntry condenses a summary into its run index line.
func IndexEntry(summary model.RunSummary) RunIndexEntry {
	entry := RunIndexEntry{
		RunID:        summary.RunID,
		Scenario:     summary.Scenario,
		Workers:      summary.Workers,
		Rounds:       summary.Rounds,
		Falsified:    summary.Falsified,
		CreatedAtUTC: summary.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
	if summary.BestFeedback != nil {
		best := *summary.BestFeedback
		entry.BestFeedback = &best
	}
	return entry
}

// ExportRunArtifacts copies a run directory's artifacts into outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{summaryFile, roundsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{feedbackCSVFile, scenarioCopyFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

// WriteExport writes a summary and its records into outDir/<run id> without
// a source run directory, as when exporting straight from a store.
func WriteExport(outDir string, summary model.RunSummary, records []model.RoundRecord) (string, error) {
	summary.ScenarioPath = ""
	return WriteRunArtifacts(outDir, summary, records)
}

func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, summaryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}

	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, false, err
	}
	return summary, true, nil
}

func ReadRounds(baseDir, runID string) ([]model.RoundRecord, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, roundsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	var records []model.RoundRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRoundLineBytes)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record model.RoundRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, false, fmt.Errorf("%s line %d: %w", roundsFile, line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func ReadFeedbackSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, feedbackCSVFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("feedback series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("feedback series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeRounds(path string, records []model.RoundRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

func writeFeedbackSeries(path string, records []model.RoundRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"round", "feedback"}); err != nil {
		return err
	}
	for i, v := range FeedbackSeries(records) {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(v, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
