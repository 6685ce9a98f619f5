package monitor

import (
	"net/url"
	"time"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultStaleLimit                  = 6 * time.Second
	DefaultErrorLimit                  = 100
	DefaultEventLimit                  = 200
	DefaultTargetDurationTolerance     = 0.5
	DefaultMseqGapThreshold            = 5
	DefaultVariantSyncDriftThreshold   = 3
	DefaultVariantFailureThreshold     = 3
	DefaultSegmentDurationAnomalyRatio = 0.5
	DefaultMaxConcurrentFetches        = 4
	DefaultRequestTimeout              = 10 * time.Second
	DefaultScte35UnclosedTimeout       = 2 * time.Minute
)

// Config holds the per-monitor engine settings. The zero value of every field
// means "use the default"; call Validate before handing a Config to a Monitor.
type Config struct {
	// StaleLimit is how long a manifest may stay unchanged before a
	// StaleManifest finding is raised.
	StaleLimit time.Duration

	// PollInterval is the poll cadence. Zero derives max(1s, StaleLimit/2).
	PollInterval time.Duration

	// SCTE35 enables the CUE marker checks.
	SCTE35 bool

	// ErrorLimit and EventLimit are the ring buffer capacities.
	ErrorLimit int
	EventLimit int

	// TargetDurationTolerance is the slack in seconds over the advertised
	// target duration before a segment is flagged.
	TargetDurationTolerance float64

	// MseqGapThreshold is the largest tolerated forward media-sequence jump.
	MseqGapThreshold int64

	// VariantSyncDriftThreshold is the largest tolerated media-sequence gap
	// between two variants of the same stream.
	VariantSyncDriftThreshold int64

	// VariantFailureThreshold is how many consecutive fetch failures make a
	// variant unavailable.
	VariantFailureThreshold int

	// SegmentDurationAnomalyRatio flags segments shorter than
	// target_duration x ratio.
	SegmentDurationAnomalyRatio float64

	// MaxConcurrentFetches bounds variant fetch parallelism per monitor.
	MaxConcurrentFetches int

	// RequestTimeout is the hard per-fetch timeout.
	RequestTimeout time.Duration

	// Scte35UnclosedTimeout is how long a CUE-OUT may stay open before an
	// Scte35UnclosedCueOut finding is raised.
	Scte35UnclosedTimeout time.Duration

	// Webhooks are the notification destinations for this monitor.
	Webhooks []Destination
}

// DefaultConfig returns a Config with every field at its documented default.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.StaleLimit <= 0 {
		c.StaleLimit = DefaultStaleLimit
	}
	if c.ErrorLimit <= 0 {
		c.ErrorLimit = DefaultErrorLimit
	}
	if c.EventLimit <= 0 {
		c.EventLimit = DefaultEventLimit
	}
	if c.TargetDurationTolerance <= 0 {
		c.TargetDurationTolerance = DefaultTargetDurationTolerance
	}
	if c.MseqGapThreshold <= 0 {
		c.MseqGapThreshold = DefaultMseqGapThreshold
	}
	if c.VariantSyncDriftThreshold <= 0 {
		c.VariantSyncDriftThreshold = DefaultVariantSyncDriftThreshold
	}
	if c.VariantFailureThreshold <= 0 {
		c.VariantFailureThreshold = DefaultVariantFailureThreshold
	}
	if c.SegmentDurationAnomalyRatio <= 0 {
		c.SegmentDurationAnomalyRatio = DefaultSegmentDurationAnomalyRatio
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Scte35UnclosedTimeout <= 0 {
		c.Scte35UnclosedTimeout = DefaultScte35UnclosedTimeout
	}
	return c
}

// effectivePollInterval returns the configured cadence, or the derived
// default max(1s, StaleLimit/2).
func (c Config) effectivePollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	derived := c.StaleLimit / 2
	if derived < time.Second {
		derived = time.Second
	}
	return derived
}

// Validate rejects configurations the engine cannot run with. Webhook URLs
// are checked here so a bad destination fails the originating operation
// instead of surfacing during delivery.
func (c Config) Validate() error {
	if c.SegmentDurationAnomalyRatio >= 1 {
		return &InvalidThresholdError{Field: "segment_duration_anomaly_ratio", Reason: "must be below 1"}
	}
	if c.PollInterval < 0 {
		return &InvalidThresholdError{Field: "poll_interval_ms", Reason: "must not be negative"}
	}
	for _, d := range c.Webhooks {
		if err := validateHTTPURL(d.URL); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &InvalidURLError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidURLError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &InvalidURLError{URL: raw, Reason: "missing host"}
	}
	return nil
}
