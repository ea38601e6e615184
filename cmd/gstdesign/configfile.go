package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aristath/gstdesign/internal/modules/model"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML selection file accepted by --config.
//
//	model:
//	  name: idle
//	  num_qubits: 1
//	  gates:
//	    - label: Gi
//	fiducials:
//	  algorithm: grasp
//	  candidate_length_schedule: 2
//	germs:
//	  candidate_length_schedule: {max_length: 6, counts: {6: 200}}
//	max_lengths: [1, 2, 4, 8]
type fileConfig struct {
	Model      *modelFile     `yaml:"model"`
	Fiducials  map[string]any `yaml:"fiducials"`
	Germs      map[string]any `yaml:"germs"`
	MaxLengths []int          `yaml:"max_lengths"`
}

type modelFile struct {
	Name      string           `yaml:"name"`
	NumQubits int              `yaml:"num_qubits"`
	Gates     []model.GateSpec `yaml:"gates"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

// resolveModel prefers a model from the config file over a built-in name.
func resolveModel(fc *fileConfig, gateSet string) (*model.Model, error) {
	if fc.Model == nil {
		return model.Builtin(gateSet)
	}
	name := fc.Model.Name
	if name == "" {
		name = "custom"
	}
	nq := fc.Model.NumQubits
	if nq == 0 {
		nq = 1
	}
	return model.New(name, nq, fc.Model.Gates)
}
