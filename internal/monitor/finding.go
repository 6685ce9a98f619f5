package monitor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an anomaly check. The set is closed; webhook filters and
// API consumers match on these strings.
type Kind string

const (
	KindTargetDurationExceeded        Kind = "TargetDurationExceeded"
	KindSegmentDurationAnomaly        Kind = "SegmentDurationAnomaly"
	KindPlaylistGap                   Kind = "PlaylistGap"
	KindPlaylistTypeViolation         Kind = "PlaylistTypeViolation"
	KindVersionViolation              Kind = "VersionViolation"
	KindMediaSequenceRegression       Kind = "MediaSequenceRegression"
	KindMediaSequenceGap              Kind = "MediaSequenceGap"
	KindDiscontinuitySequenceMismatch Kind = "DiscontinuitySequenceMismatch"
	KindSegmentContinuityBreak        Kind = "SegmentContinuityBreak"
	KindPlaylistSizeShrank            Kind = "PlaylistSizeShrank"
	KindPlaylistContentChanged        Kind = "PlaylistContentChanged"
	KindProgramDateTimeJump           Kind = "ProgramDateTimeJump"
	KindDateRangeViolation            Kind = "DateRangeViolation"
	KindStaleManifest                 Kind = "StaleManifest"
	KindVariantUnavailable            Kind = "VariantUnavailable"
	KindVariantSyncDrift              Kind = "VariantSyncDrift"
	KindScte35OrphanCueIn             Kind = "Scte35OrphanCueIn"
	KindScte35UnclosedCueOut          Kind = "Scte35UnclosedCueOut"
	KindScte35MissingContinuation     Kind = "Scte35MissingContinuation"
	KindFetchError                    Kind = "FetchError"

	KindVariantRecovered Kind = "VariantRecovered"
	KindMonitorStarted   Kind = "MonitorStarted"
	KindMonitorStopped   Kind = "MonitorStopped"
	KindMasterRefreshed  Kind = "MasterRefreshed"
	KindStaleRecovered   Kind = "StaleRecovered"
)

// Severity routes a finding to the error or event ring.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityEvent Severity = "event"
)

var eventKinds = map[Kind]bool{
	KindVariantRecovered: true,
	KindMonitorStarted:   true,
	KindMonitorStopped:   true,
	KindMasterRefreshed:  true,
	KindStaleRecovered:   true,
}

// SeverityFor returns the fixed severity of a kind.
func SeverityFor(kind Kind) Severity {
	if eventKinds[kind] {
		return SeverityEvent
	}
	return SeverityError
}

// Finding is one emitted anomaly record.
type Finding struct {
	ID         string
	MonitorID  string
	StreamID   string
	VariantURL string
	Kind       Kind
	Severity   Severity
	Timestamp  time.Time
	Message    string
	Details    map[string]any
}

// newFinding builds an unstamped finding: kind, message and details only.
// The engine fills in identity and timestamp when the finding is recorded.
func newFinding(kind Kind, message string, details map[string]any) Finding {
	if details == nil {
		details = map[string]any{}
	}
	return Finding{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: SeverityFor(kind),
		Message:  message,
		Details:  details,
	}
}

type findingJSON struct {
	MonitorID  string         `json:"monitor_id"`
	StreamID   *string        `json:"stream_id"`
	VariantURL *string        `json:"variant_url"`
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	Timestamp  string         `json:"timestamp"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details"`
}

// MarshalJSON renders the canonical finding schema shared by webhooks and the
// API: absent stream/variant scope becomes null, timestamps are ISO-8601 UTC.
func (f Finding) MarshalJSON() ([]byte, error) {
	out := findingJSON{
		MonitorID: f.MonitorID,
		Kind:      f.Kind,
		Severity:  f.Severity,
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
		Message:   f.Message,
		Details:   f.Details,
	}
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	if f.StreamID != "" {
		out.StreamID = &f.StreamID
	}
	if f.VariantURL != "" {
		out.VariantURL = &f.VariantURL
	}
	return json.Marshal(out)
}
