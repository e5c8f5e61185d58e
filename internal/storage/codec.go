package storage

import (
	"encoding/json"
	"errors"

	"falsifier/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp sets the current schema and codec versions on a summary.
func Stamp(summary model.RunSummary) model.RunSummary {
	summary.SchemaVersion = CurrentSchemaVersion
	summary.CodecVersion = CurrentCodecVersion
	return summary
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeRoundRecords(records []model.RoundRecord) ([]byte, error) {
	if records == nil {
		records = []model.RoundRecord{}
	}
	return json.Marshal(records)
}

func DecodeRoundRecords(data []byte) ([]model.RoundRecord, error) {
	var records []model.RoundRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
