package storage

import (
	"encoding/json"
	"errors"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrNotInitialized  = errors.New("store is not initialized")
	ErrRunIDRequired   = errors.New("run id is required")
)

func EncodeKing(r model.KingRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeKing(data []byte) (model.KingRecord, error) {
	var record model.KingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.KingRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.KingRecord{}, err
	}
	return record, nil
}

func EncodeGeneration(r model.GenerationRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeGeneration(data []byte) (model.GenerationRecord, error) {
	var record model.GenerationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.GenerationRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.GenerationRecord{}, err
	}
	return record, nil
}

// stampVersion fills in the current versions on records built without them.
func stampVersion(v *model.VersionedRecord) {
	if v.SchemaVersion == 0 && v.CodecVersion == 0 {
		v.SchemaVersion = CurrentSchemaVersion
		v.CodecVersion = CurrentCodecVersion
	}
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
