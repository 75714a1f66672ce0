package storage

import (
	"encoding/json"
	"errors"

	"neurodrive/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// StampVersion marks a record with the versions this build writes.
func StampVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeGenome(g model.Genome) ([]byte, error) {
	return json.Marshal(g)
}

// EncodeGenomeIndent is EncodeGenome for files meant to be read by people.
func EncodeGenomeIndent(g model.Genome) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

func DecodeGenome(data []byte) (model.Genome, error) {
	var genome model.Genome
	if err := json.Unmarshal(data, &genome); err != nil {
		return model.Genome{}, err
	}
	if err := checkVersion(genome.VersionedRecord); err != nil {
		return model.Genome{}, err
	}
	return genome, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func EncodeRunIndexEntry(entry model.RunIndexEntry) ([]byte, error) {
	return json.Marshal(entry)
}

func DecodeRunIndexEntry(data []byte) (model.RunIndexEntry, error) {
	var entry model.RunIndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return model.RunIndexEntry{}, err
	}
	return entry, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
