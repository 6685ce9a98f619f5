package monitor

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapFile declares monitors to register at startup.
type BootstrapFile struct {
	Monitors []BootstrapMonitor `yaml:"monitors"`
}

// BootstrapMonitor is one monitor declaration in a bootstrap file.
type BootstrapMonitor struct {
	ID      string            `yaml:"id"`
	Start   bool              `yaml:"start"`
	Config  BootstrapConfig   `yaml:"config"`
	Streams []BootstrapStream `yaml:"streams"`
}

// BootstrapStream is one stream declaration.
type BootstrapStream struct {
	URL string `yaml:"url"`
	ID  string `yaml:"id"`
}

// BootstrapConfig mirrors Config with the wire field names of the
// configuration schema. Zero values mean "use the default".
type BootstrapConfig struct {
	StaleLimitMS                int64         `yaml:"stale_limit_ms"`
	PollIntervalMS              int64         `yaml:"poll_interval_ms"`
	SCTE35                      bool          `yaml:"scte35"`
	ErrorLimit                  int           `yaml:"error_limit"`
	EventLimit                  int           `yaml:"event_limit"`
	TargetDurationTolerance     float64       `yaml:"target_duration_tolerance"`
	MseqGapThreshold            int64         `yaml:"mseq_gap_threshold"`
	VariantSyncDriftThreshold   int64         `yaml:"variant_sync_drift_threshold"`
	VariantFailureThreshold     int           `yaml:"variant_failure_threshold"`
	SegmentDurationAnomalyRatio float64       `yaml:"segment_duration_anomaly_ratio"`
	MaxConcurrentFetches        int           `yaml:"max_concurrent_fetches"`
	RequestTimeoutMS            int64         `yaml:"request_timeout_ms"`
	Scte35UnclosedTimeoutMS     int64         `yaml:"scte35_unclosed_timeout_ms"`
	Webhooks                    []Destination `yaml:"webhooks"`
}

// ToConfig converts the wire representation to an engine Config.
func (b BootstrapConfig) ToConfig() Config {
	return Config{
		StaleLimit:                  time.Duration(b.StaleLimitMS) * time.Millisecond,
		PollInterval:                time.Duration(b.PollIntervalMS) * time.Millisecond,
		SCTE35:                      b.SCTE35,
		ErrorLimit:                  b.ErrorLimit,
		EventLimit:                  b.EventLimit,
		TargetDurationTolerance:     b.TargetDurationTolerance,
		MseqGapThreshold:            b.MseqGapThreshold,
		VariantSyncDriftThreshold:   b.VariantSyncDriftThreshold,
		VariantFailureThreshold:     b.VariantFailureThreshold,
		SegmentDurationAnomalyRatio: b.SegmentDurationAnomalyRatio,
		MaxConcurrentFetches:        b.MaxConcurrentFetches,
		RequestTimeout:              time.Duration(b.RequestTimeoutMS) * time.Millisecond,
		Scte35UnclosedTimeout:       time.Duration(b.Scte35UnclosedTimeoutMS) * time.Millisecond,
		Webhooks:                    b.Webhooks,
	}
}

// LoadBootstrapFile reads and strictly decodes a monitors bootstrap file.
func LoadBootstrapFile(path string) (*BootstrapFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}

	var bf BootstrapFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("parse bootstrap file %s: %w", path, err)
	}
	return &bf, nil
}

// Apply registers (and optionally starts) every declared monitor.
func (bf *BootstrapFile) Apply(r *Registry) error {
	for _, bm := range bf.Monitors {
		mon, err := r.Create(bm.ID, bm.Config.ToConfig())
		if err != nil {
			return fmt.Errorf("create monitor %q: %w", bm.ID, err)
		}
		for _, s := range bm.Streams {
			if _, err := mon.AddStream(s.URL, s.ID); err != nil {
				return fmt.Errorf("monitor %q stream %q: %w", bm.ID, s.URL, err)
			}
		}
		if bm.Start {
			if err := mon.Start(); err != nil {
				return fmt.Errorf("start monitor %q: %w", bm.ID, err)
			}
		}
	}
	return nil
}
