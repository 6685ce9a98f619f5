package playlist

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotAPlaylist is returned when the first non-empty line is not #EXTM3U.
	ErrNotAPlaylist = errors.New("playlist: missing #EXTM3U header")

	// ErrUnterminatedExtInf is returned when an #EXTINF has no segment URI
	// before the next structural tag or end of input.
	ErrUnterminatedExtInf = errors.New("playlist: #EXTINF without segment URI")
)

// MalformedTagError reports a tag whose value could not be parsed.
type MalformedTagError struct {
	Line   int
	Tag    string
	Reason string
}

func (e *MalformedTagError) Error() string {
	return fmt.Sprintf("playlist: malformed %s on line %d: %s", e.Tag, e.Line, e.Reason)
}

// Parse consumes the text of an HLS manifest plus its URL and produces a
// typed Playlist. A manifest containing both #EXT-X-STREAM-INF entries and
// segments is treated as a media playlist, matching common broadcaster
// behavior.
func Parse(data []byte, playlistURL string) (*Playlist, error) {
	base, _ := url.Parse(playlistURL)

	lines := strings.Split(string(data), "\n")

	seenHeader := false
	master := &Master{URL: playlistURL}
	media := &Media{URL: playlistURL}

	var pending Segment
	pendingInf := false
	var pendingVariant *Variant
	hasSegments := false
	hasStreamInf := false

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lineNo := i + 1

		if !seenHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotAPlaylist
			}
			seenHeader = true
			continue
		}

		if !strings.HasPrefix(line, "#") {
			// URI line: terminates a pending variant or segment.
			uri := resolveURI(base, line)
			switch {
			case pendingVariant != nil:
				pendingVariant.URI = uri
				master.Variants = append(master.Variants, *pendingVariant)
				pendingVariant = nil
				hasStreamInf = true
			case pendingInf:
				pending.URI = uri
				media.Segments = append(media.Segments, pending)
				pending = Segment{}
				pendingInf = false
				hasSegments = true
			default:
				// Stray URI with no preceding #EXTINF or #EXT-X-STREAM-INF;
				// some packagers emit these. Skip.
			}
			continue
		}

		if !strings.HasPrefix(line, "#EXT") {
			continue // comment
		}

		tag, value, _ := strings.Cut(line, ":")

		switch tag {
		case "#EXTM3U":
			// Repeated header, harmless.

		case "#EXT-X-VERSION":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			master.Version = &n
			media.Version = &n

		case "#EXT-X-TARGETDURATION":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			media.TargetDuration = n

		case "#EXT-X-MEDIA-SEQUENCE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			media.MediaSequenceBase = n

		case "#EXT-X-DISCONTINUITY-SEQUENCE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			media.DiscontinuitySequenceBase = n

		case "#EXT-X-PLAYLIST-TYPE":
			switch value {
			case "VOD":
				media.PlaylistType = TypeVOD
			case "EVENT":
				media.PlaylistType = TypeEvent
			default:
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: "expected VOD or EVENT"}
			}

		case "#EXT-X-ENDLIST":
			if pendingInf {
				return nil, ErrUnterminatedExtInf
			}
			media.EndList = true

		case "#EXTINF":
			if pendingInf {
				return nil, ErrUnterminatedExtInf
			}
			durStr, title, _ := strings.Cut(value, ",")
			dur, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			pending.Duration = dur
			pending.Title = strings.TrimSpace(title)
			pendingInf = true

		case "#EXT-X-DISCONTINUITY":
			pending.Discontinuity = true

		case "#EXT-X-GAP":
			pending.Gap = true

		case "#EXT-X-PROGRAM-DATE-TIME":
			t, err := parseDateTime(value)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			pending.ProgramDateTime = &t

		case "#EXT-X-DATERANGE":
			dr, err := parseDateRange(value, lineNo)
			if err != nil {
				return nil, err
			}
			pending.DateRanges = append(pending.DateRanges, dr)

		case "#EXT-X-CUE-OUT":
			pending.CueOut = true
			parseCueOutValue(value, &pending)

		case "#EXT-X-CUE-IN":
			pending.CueIn = true
			if attrs, err := parseAttributes(value); err == nil {
				if id, ok := attrs["ID"]; ok && pending.CueID == "" {
					pending.CueID = id
				}
			}

		case "#EXT-X-CUE-OUT-CONT":
			pending.CueOutCont = true
			if attrs, err := parseAttributes(value); err == nil {
				if id, ok := attrs["ID"]; ok && pending.CueID == "" {
					pending.CueID = id
				}
			}

		case "#EXT-X-STREAM-INF":
			attrs, err := parseAttributes(value)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			v := Variant{
				Codecs:         attrs["CODECS"],
				Resolution:     attrs["RESOLUTION"],
				Audio:          attrs["AUDIO"],
				Video:          attrs["VIDEO"],
				Subtitles:      attrs["SUBTITLES"],
				ClosedCaptions: attrs["CLOSED-CAPTIONS"],
			}
			v.Bandwidth, _ = strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
			v.AverageBandwidth, _ = strconv.ParseInt(attrs["AVERAGE-BANDWIDTH"], 10, 64)
			v.FrameRate, _ = strconv.ParseFloat(attrs["FRAME-RATE"], 64)
			pendingVariant = &v

		case "#EXT-X-MEDIA":
			attrs, err := parseAttributes(value)
			if err != nil {
				return nil, &MalformedTagError{Line: lineNo, Tag: tag, Reason: err.Error()}
			}
			r := Rendition{
				Type:       attrs["TYPE"],
				GroupID:    attrs["GROUP-ID"],
				Name:       attrs["NAME"],
				Language:   attrs["LANGUAGE"],
				Default:    attrs["DEFAULT"] == "YES",
				Autoselect: attrs["AUTOSELECT"] == "YES",
			}
			if uri := attrs["URI"]; uri != "" {
				r.URI = resolveURI(base, uri)
			}
			master.Renditions = append(master.Renditions, r)

		default:
			master.Unknown = append(master.Unknown, line)
			media.Unknown = append(media.Unknown, line)
		}
	}

	if !seenHeader {
		return nil, ErrNotAPlaylist
	}
	if pendingInf {
		return nil, ErrUnterminatedExtInf
	}

	// A playlist carrying segments is a media playlist even when variant
	// descriptors are present.
	if hasSegments {
		return &Playlist{Media: media}, nil
	}
	if hasStreamInf || len(master.Renditions) > 0 {
		return &Playlist{Master: master}, nil
	}
	return &Playlist{Media: media}, nil
}

// ParseMedia parses data and requires the result to be a media playlist.
func ParseMedia(data []byte, playlistURL string) (*Media, error) {
	pl, err := Parse(data, playlistURL)
	if err != nil {
		return nil, err
	}
	if pl.Media == nil {
		return nil, fmt.Errorf("playlist: %s is a master playlist", playlistURL)
	}
	return pl.Media, nil
}

func resolveURI(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999Z0700", s)
}

// parseCueOutValue handles the common CUE-OUT forms: a bare duration
// ("#EXT-X-CUE-OUT:30"), an attribute list ("DURATION=30,ID=break-1"), or no
// value at all.
func parseCueOutValue(value string, seg *Segment) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if strings.Contains(value, "=") {
		attrs, err := parseAttributes(value)
		if err != nil {
			return
		}
		if d, err := strconv.ParseFloat(attrs["DURATION"], 64); err == nil {
			seg.CueOutDuration = d
		}
		if id, ok := attrs["ID"]; ok {
			seg.CueID = id
		}
		return
	}
	if d, err := strconv.ParseFloat(value, 64); err == nil {
		seg.CueOutDuration = d
	}
}

func parseDateRange(value string, lineNo int) (DateRange, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return DateRange{}, &MalformedTagError{Line: lineNo, Tag: "#EXT-X-DATERANGE", Reason: err.Error()}
	}

	dr := DateRange{
		ID:        attrs["ID"],
		Class:     attrs["CLASS"],
		EndOnNext: attrs["END-ON-NEXT"] == "YES",
		Raw:       value,
	}
	if s, ok := attrs["START-DATE"]; ok {
		if t, err := parseDateTime(s); err == nil {
			dr.StartDate = &t
		}
	}
	if s, ok := attrs["END-DATE"]; ok {
		if t, err := parseDateTime(s); err == nil {
			dr.EndDate = &t
		}
	}
	if s, ok := attrs["DURATION"]; ok {
		if d, err := strconv.ParseFloat(s, 64); err == nil {
			dr.Duration = &d
		}
	}
	if s, ok := attrs["PLANNED-DURATION"]; ok {
		if d, err := strconv.ParseFloat(s, 64); err == nil {
			dr.PlannedDuration = &d
		}
	}
	return dr, nil
}

// parseAttributes parses an HLS attribute list: comma-separated KEY=value
// pairs where values may be quoted strings containing commas. Keys are
// case-sensitive per RFC 8216.
func parseAttributes(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	i := 0
	n := len(s)

	for i < n {
		// Key up to '='.
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			if strings.TrimSpace(s[i:]) == "" {
				break
			}
			return nil, fmt.Errorf("attribute %q has no value", strings.TrimSpace(s[i:]))
		}
		key := strings.TrimSpace(s[i : i+eq])
		if key == "" {
			return nil, errors.New("empty attribute name")
		}
		i += eq + 1

		var val string
		if i < n && s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted value for %s", key)
			}
			val = s[i+1 : i+1+end]
			i += end + 2
			// Skip to next comma.
			for i < n && s[i] != ',' {
				i++
			}
		} else {
			comma := strings.IndexByte(s[i:], ',')
			if comma < 0 {
				val = strings.TrimSpace(s[i:])
				i = n
			} else {
				val = strings.TrimSpace(s[i : i+comma])
				i += comma
			}
		}
		if i < n && s[i] == ',' {
			i++
		}
		attrs[key] = val
	}

	return attrs, nil
}
