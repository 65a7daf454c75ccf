// Package config provides the single typed configuration record for the
// registry, loaded from a jsonnet file the way bb-storage's binaries
// load their configuration: evaluate the jsonnet VM to JSON, then
// unmarshal into a plain Go struct. There is no protobuf schema for
// this subsystem, so the generated-config-message layer the original
// bb-storage uses is skipped; see DESIGN.md.
package config

import (
	"encoding/json"
	"time"

	jsonnet "github.com/google/go-jsonnet"
)

// Config is the complete set of recognized runtime options for the
// registry: matching thresholds, pool sizing, queue capacities,
// transport endpoints, and the homomorphic-encryption toggle.
type Config struct {
	// Matching thresholds.
	MatchThreshold float64 `json:"matchThreshold"`
	DedupThreshold float64 `json:"dedupThreshold"`
	RotationShift  int     `json:"rotationShift"`
	NormMean       float64 `json:"normMean"`
	NormGradient   float64 `json:"normGradient"`

	// Pipeline pool.
	PipelinePoolSize int `json:"pipelinePoolSize"`

	// Batch enrollment.
	BatchWorkers           int     `json:"batchWorkers"`
	BatchDBSize            int     `json:"batchDbSize"`
	BatchDBIntervalSeconds float64 `json:"batchDbIntervalSeconds"`

	// Homomorphic encryption.
	HEEnabled bool   `json:"heEnabled"`
	HEKeyDir  string `json:"heKeyDir"`

	// Transport & storage URLs.
	StoreDSN     string `json:"storeDsn"`
	StorePoolMin int    `json:"storePoolMin"`
	StorePoolMax int    `json:"storePoolMax"`
	RedisURL     string `json:"redisUrl"`
	NATSURL      string `json:"natsUrl"`

	// Change-bus subjects.
	BusSubjectChanged string `json:"busSubjectChanged"`

	// Match-log queue.
	MatchLogQueueCapacity int `json:"matchLogQueueCapacity"`
	MatchLogBatchMax      int `json:"matchLogBatchMax"`

	// Change bus debounce.
	ReloadDebounceMilliseconds int `json:"reloadDebounceMilliseconds"`

	// HE remote decrypt transport.
	MaxCtsPerRequest        int     `json:"maxCtsPerRequest"`
	HERequestTimeoutSeconds float64 `json:"heRequestTimeoutSeconds"`
}

// Default returns a Config populated with the registry's baseline
// operating defaults.
func Default() *Config {
	return &Config{
		MatchThreshold:             0.39,
		DedupThreshold:             0.32,
		RotationShift:              15,
		NormMean:                   0.45,
		NormGradient:               5e-5,
		PipelinePoolSize:           3,
		BatchWorkers:               3,
		BatchDBSize:                50,
		BatchDBIntervalSeconds:     1.0,
		HEEnabled:                  false,
		StorePoolMin:               2,
		StorePoolMax:               5,
		BusSubjectChanged:          "eyed.templates.changed",
		MatchLogQueueCapacity:      1000,
		MatchLogBatchMax:           50,
		ReloadDebounceMilliseconds: 500,
		MaxCtsPerRequest:           16,
		HERequestTimeoutSeconds:    30,
	}
}

// ReloadDebounce returns the configured debounce interval as a
// time.Duration.
func (c *Config) ReloadDebounce() time.Duration {
	return time.Duration(c.ReloadDebounceMilliseconds) * time.Millisecond
}

// BatchDBInterval returns the configured drain interval as a
// time.Duration.
func (c *Config) BatchDBInterval() time.Duration {
	return time.Duration(c.BatchDBIntervalSeconds * float64(time.Second))
}

// HERequestTimeout returns the configured remote-decrypt timeout as a
// time.Duration.
func (c *Config) HERequestTimeout() time.Duration {
	return time.Duration(c.HERequestTimeoutSeconds * float64(time.Second))
}

// Load evaluates the jsonnet file at path and unmarshals the result on
// top of Default(), so a config file only needs to override the
// options it cares about.
func Load(path string) (*Config, error) {
	vm := jsonnet.MakeVM()
	output, err := vm.EvaluateFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal([]byte(output), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
