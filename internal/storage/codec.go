package storage

import (
	"encoding/json"
	"errors"

	"tracemh/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp written on new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeSamples(c model.SampleChain) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeSamples(data []byte) (model.SampleChain, error) {
	var chain model.SampleChain
	if err := json.Unmarshal(data, &chain); err != nil {
		return model.SampleChain{}, err
	}
	if err := checkVersion(chain.VersionedRecord); err != nil {
		return model.SampleChain{}, err
	}
	return chain, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
