package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pilot.MaxExtensions != 2 {
		t.Fatalf("max_extensions=%d want 2", cfg.Pilot.MaxExtensions)
	}
	if got := cfg.Pilot.Duration.Hours(); got != 720 {
		t.Fatalf("pilot duration=%vh want 720h", got)
	}
}

func TestValidateRejectsWeightSums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"admission", func(c *Config) { c.Admission.Weights.Relevance = 0.30 }, "admission.weights"},
		{"evaluation", func(c *Config) { c.Evaluation.Weights.Value = 0.10 }, "evaluation.weights"},
		{"dedup", func(c *Config) { c.Dedup.Weights.Semantic = 0 }, "dedup.weights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(cerr.Error(), tt.want) {
				t.Fatalf("error %q does not mention %s", cerr.Error(), tt.want)
			}
		})
	}
}

func TestValidateDoesNotNormalizeWeights(t *testing.T) {
	cfg := Default()
	cfg.Evaluation.Weights.Volume = 0.5
	cfg.Evaluation.Weights.Quality = 0.7
	cfg.Evaluation.Weights.Technical = 0.5
	cfg.Evaluation.Weights.Value = 0.3
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for weights summing to 2.0")
	}
	if cfg.Evaluation.Weights.Quality != 0.7 {
		t.Fatalf("weights were modified: %+v", cfg.Evaluation.Weights)
	}
}

func TestValidateRejectsThresholdOrdering(t *testing.T) {
	tests := []struct {
		name                   string
		accept, review, reject float64
	}{
		{"accept equals review", 0.6, 0.6, 0.4},
		{"accept below review", 0.5, 0.6, 0.4},
		{"review equals reject", 0.8, 0.4, 0.4},
		{"review below reject", 0.8, 0.3, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Admission.AcceptThreshold = tt.accept
			cfg.Admission.ManualReviewThreshold = tt.review
			cfg.Admission.RejectThreshold = tt.reject
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected ordering error for %+v", tt)
			}
		})
	}
}

func TestLoadFailsFastOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "evaluation:\n  weights:\n    volume: 0.4\n    quality: 0.4\n    technical: 0.4\n    value: 0.4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "pilot:\n  max_extensions: 1\n  duration: 336h\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pilot.MaxExtensions != 1 {
		t.Fatalf("max_extensions=%d want 1", cfg.Pilot.MaxExtensions)
	}
	if cfg.Pilot.Duration.Hours() != 336 {
		t.Fatalf("duration=%v want 336h", cfg.Pilot.Duration)
	}
}
