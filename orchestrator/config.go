// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how sources are prioritized and how hard the orchestrator
// tries
type Mode string

const (
	ModeSpeed         Mode = "speed"
	ModeAccuracy      Mode = "accuracy"
	ModeComprehensive Mode = "comprehensive"
)

// ParseMode converts a mode name; empty yields ""
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSpeed, ModeAccuracy, ModeComprehensive, "":
		return m, nil
	}
	return "", fmt.Errorf("unknown performance mode %q (want speed, accuracy or comprehensive)", s)
}

// Config holds orchestrator settings
type Config struct {
	Timeout                time.Duration `yaml:"timeout"`
	SourceTimeout          time.Duration `yaml:"source_timeout"`
	RetryAttempts          int           `yaml:"retry_attempts"`
	RetryBackoff           time.Duration `yaml:"retry_backoff"`
	MinConfidenceThreshold float64       `yaml:"min_confidence_threshold"`
	MaxDataSources         int           `yaml:"max_data_sources"`
	EnableFallbacks        bool          `yaml:"enable_fallbacks"`
	PerformanceMode        Mode          `yaml:"performance_mode"`
	NearbyLimit            int           `yaml:"nearby_limit"`
	PreloadMemory          int           `yaml:"preload_memory"`
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		Timeout:                30 * time.Second,
		SourceTimeout:          10 * time.Second,
		RetryAttempts:          3,
		RetryBackoff:           500 * time.Millisecond,
		MinConfidenceThreshold: 0.7,
		MaxDataSources:         5,
		EnableFallbacks:        true,
		PerformanceMode:        ModeAccuracy,
		NearbyLimit:            50,
		PreloadMemory:          1024,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Timeout <= 0 || c.SourceTimeout <= 0 {
		return fmt.Errorf("timeout and source_timeout must be positive")
	}
	if c.RetryAttempts < 0 || c.RetryBackoff < 0 {
		return fmt.Errorf("retry_attempts and retry_backoff must not be negative")
	}
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return fmt.Errorf("min_confidence_threshold must be within [0,1], got %v", c.MinConfidenceThreshold)
	}
	if c.MaxDataSources <= 0 {
		return fmt.Errorf("max_data_sources must be positive, got %d", c.MaxDataSources)
	}
	if c.NearbyLimit <= 0 || c.PreloadMemory <= 0 {
		return fmt.Errorf("nearby_limit and preload_memory must be positive")
	}
	if _, err := ParseMode(string(c.PerformanceMode)); err != nil || c.PerformanceMode == "" {
		return fmt.Errorf("invalid performance_mode %q", c.PerformanceMode)
	}
	return nil
}
