package stats

import (
	"math"

	"falsifier/internal/model"
)

// Falsifies reports whether a score counts as a counterexample. Only scored
// rounds can falsify; none feedback never does.
func Falsifies(feedback model.Feedback, below float64) bool {
	v, ok := feedback.Scalar()
	return ok && v < below
}

// Summarize folds round records into run totals. Rejected rounds count
// toward Rejections and never toward the best or mean score.
func Summarize(records []model.RoundRecord, falsifyBelow float64) model.RunSummary {
	summary := model.RunSummary{
		Rounds:       len(records),
		FalsifyBelow: falsifyBelow,
	}

	var (
		sum    float64
		scored int
		best   = math.Inf(1)
	)
	for _, record := range records {
		if record.Rejected {
			summary.Rejections++
			continue
		}
		v, ok := record.Feedback.Scalar()
		if !ok {
			continue
		}
		if v < falsifyBelow {
			summary.Falsified++
		}
		sum += v
		scored++
		if v < best {
			best = v
			summary.BestSampleID = record.Sample.ID
		}
	}
	if scored > 0 {
		mean := sum / float64(scored)
		summary.BestFeedback = &best
		summary.MeanFeedback = &mean
	}
	return summary
}

// FeedbackSeries returns the scalar score of every scored round in record
// order.
func FeedbackSeries(records []model.RoundRecord) []float64 {
	out := make([]float64, 0, len(records))
	for _, record := range records {
		if record.Rejected {
			continue
		}
		if v, ok := record.Feedback.Scalar(); ok {
			out = append(out, v)
		}
	}
	return out
}

// MeanStd returns the mean and population standard deviation of values.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
