package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KindLogistic     = "logistic"
	KindTreeEnsemble = "tree_ensemble"
)

// Artifact is the on-disk description of a trained classifier.
type Artifact struct {
	Kind     string   `json:"kind" yaml:"kind"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Features []string `json:"features,omitempty" yaml:"features,omitempty"`

	// logistic
	Weights []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Bias    float64   `json:"bias,omitempty" yaml:"bias,omitempty"`

	// tree_ensemble; base_score is a margin, not a probability
	BaseScore float64     `json:"base_score,omitempty" yaml:"base_score,omitempty"`
	Trees     []*TreeNode `json:"trees,omitempty" yaml:"trees,omitempty"`
}

// Load reads an artifact from path. The format follows the extension:
// .json is JSON, .yaml/.yml is YAML.
func Load(path string) (Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("no model path configured: %w", ErrModelUnavailable)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %v: %w", path, err, ErrModelUnavailable)
	}
	defer f.Close()
	return Decode(f, filepath.Ext(path))
}

// Decode parses an artifact in the format named by ext.
func Decode(r io.Reader, ext string) (Classifier, error) {
	var a Artifact
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.NewDecoder(r).Decode(&a); err != nil {
			return nil, fmt.Errorf("decode model json: %v: %w", err, ErrModelUnavailable)
		}
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&a); err != nil {
			return nil, fmt.Errorf("decode model yaml: %v: %w", err, ErrModelUnavailable)
		}
	default:
		return nil, fmt.Errorf("unsupported model format %q: %w", ext, ErrModelUnavailable)
	}
	return a.Build()
}

// Build turns a decoded artifact into a classifier.
func (a *Artifact) Build() (Classifier, error) {
	switch a.Kind {
	case KindLogistic:
		if len(a.Weights) == 0 {
			return nil, fmt.Errorf("logistic model has no weights: %w", ErrModelUnavailable)
		}
		if len(a.Features) > 0 && len(a.Features) != len(a.Weights) {
			return nil, fmt.Errorf("logistic model has %d weights for %d features: %w", len(a.Weights), len(a.Features), ErrModelUnavailable)
		}
		return NewLogistic(a.Weights, a.Bias, a.Features), nil
	case KindTreeEnsemble:
		return NewTreeEnsemble(a.Trees, a.BaseScore, a.Features)
	case "":
		return nil, fmt.Errorf("model kind not set: %w", ErrModelUnavailable)
	default:
		return nil, fmt.Errorf("unknown model kind %q: %w", a.Kind, ErrModelUnavailable)
	}
}
