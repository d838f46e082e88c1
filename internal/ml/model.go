package ml

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"edge-agent/internal/aggregator"
	"edge-agent/internal/models"
)

// Classifier dimensions
const (
	InputSize  = aggregator.FeatureCount
	OutputSize = models.ClassCount
)

// Model is a dense linear layer: logits = Weights·x + Biases.
// Weights is OutputSize rows of InputSize columns.
type Model struct {
	Version    string      `json:"version,omitempty" yaml:"version,omitempty"`
	InputSize  int         `json:"input_size" yaml:"input_size"`
	OutputSize int         `json:"output_size" yaml:"output_size"`
	Weights    [][]float64 `json:"weights" yaml:"weights"`
	Biases     []float64   `json:"biases" yaml:"biases"`
}

// Validate checks the model shape against the classifier dimensions
func (m *Model) Validate() error {
	if m.InputSize != InputSize {
		return fmt.Errorf("input size %d, want %d", m.InputSize, InputSize)
	}
	if m.OutputSize != OutputSize {
		return fmt.Errorf("output size %d, want %d", m.OutputSize, OutputSize)
	}
	if len(m.Weights) != m.OutputSize {
		return fmt.Errorf("weights have %d rows, want %d", len(m.Weights), m.OutputSize)
	}
	for i, row := range m.Weights {
		if len(row) != m.InputSize {
			return fmt.Errorf("weights row %d has %d columns, want %d", i, len(row), m.InputSize)
		}
	}
	if len(m.Biases) != m.OutputSize {
		return fmt.Errorf("biases have %d entries, want %d", len(m.Biases), m.OutputSize)
	}
	return nil
}

// clone returns a deep copy so a loaded model cannot be mutated by its source
func (m *Model) clone() *Model {
	out := &Model{
		Version:    m.Version,
		InputSize:  m.InputSize,
		OutputSize: m.OutputSize,
		Weights:    make([][]float64, len(m.Weights)),
		Biases:     append([]float64(nil), m.Biases...),
	}
	for i, row := range m.Weights {
		out.Weights[i] = append([]float64(nil), row...)
	}
	return out
}

// LoadModel reads a model artifact. Files ending in .yaml or .yml are parsed
// as YAML, anything else as JSON.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if isYAML(path) {
		err = yaml.Unmarshal(data, &model)
	} else {
		err = json.Unmarshal(data, &model)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return &model, nil
}

// RandomModel draws weights and biases from N(0, 0.1) using a seeded generator.
// The same seed always yields the same model.
func RandomModel(seed uint64) *Model {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	model := &Model{
		Version:    fmt.Sprintf("random-%d", seed),
		InputSize:  InputSize,
		OutputSize: OutputSize,
		Weights:    make([][]float64, OutputSize),
		Biases:     make([]float64, OutputSize),
	}
	for i := range model.Weights {
		row := make([]float64, InputSize)
		for j := range row {
			row[j] = rng.NormFloat64() * 0.1
		}
		model.Weights[i] = row
	}
	for i := range model.Biases {
		model.Biases[i] = rng.NormFloat64() * 0.1
	}
	return model
}

// SaveModel writes a model artifact in the format implied by the file extension
func SaveModel(path string, model *Model) error {
	if err := model.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(model)
	} else {
		data, err = json.MarshalIndent(model, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
