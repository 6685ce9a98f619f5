package playlist

import "time"

// Type is the value of #EXT-X-PLAYLIST-TYPE. The empty string means the tag
// was absent.
type Type string

const (
	TypeVOD   Type = "VOD"
	TypeEvent Type = "EVENT"
)

// Playlist is the result of parsing an HLS manifest: exactly one of Master or
// Media is non-nil.
type Playlist struct {
	Master *Master
	Media  *Media
}

// Master is a top-level manifest referencing variant media playlists.
type Master struct {
	URL        string
	Version    *int64
	Variants   []Variant
	Renditions []Rendition

	// Unknown holds unrecognized #EXT tag lines in document order.
	Unknown []string
}

// Variant is one #EXT-X-STREAM-INF entry. URI is resolved against the
// playlist URL.
type Variant struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Codecs           string
	Resolution       string
	FrameRate        float64
	Audio            string
	Video            string
	Subtitles        string
	ClosedCaptions   string
}

// Rendition is one #EXT-X-MEDIA entry. URI may be empty (e.g. closed
// captions carried in-band).
type Rendition struct {
	Type       string
	GroupID    string
	Name       string
	Language   string
	URI        string
	Default    bool
	Autoselect bool
}

// Media is a media playlist: header fields plus the ordered segment window.
type Media struct {
	URL                       string
	Version                   *int64
	TargetDuration            int64
	MediaSequenceBase         int64
	DiscontinuitySequenceBase int64
	PlaylistType              Type
	EndList                   bool
	Segments                  []Segment

	// Unknown holds unrecognized #EXT tag lines in document order.
	Unknown []string
}

// SegmentURIs returns the ordered segment URI window.
func (m *Media) SegmentURIs() []string {
	uris := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		uris[i] = s.URI
	}
	return uris
}

// Duration returns the summed segment duration in seconds.
func (m *Media) Duration() float64 {
	var d float64
	for _, s := range m.Segments {
		d += s.Duration
	}
	return d
}

// Segment is one media segment entry with its preceding per-segment tags.
type Segment struct {
	URI      string
	Duration float64
	Title    string

	Gap           bool
	Discontinuity bool

	ProgramDateTime *time.Time

	// SCTE-35 markers.
	CueOut         bool
	CueOutDuration float64
	CueIn          bool
	CueOutCont     bool
	CueID          string

	DateRanges []DateRange
}

// DateRange is one #EXT-X-DATERANGE entry associated with the following
// segment. Raw keeps the original attribute list for re-emission.
type DateRange struct {
	ID              string
	Class           string
	StartDate       *time.Time
	EndDate         *time.Time
	Duration        *float64
	PlannedDuration *float64
	EndOnNext       bool
	Raw             string
}
