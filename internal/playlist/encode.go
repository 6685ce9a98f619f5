package playlist

import (
	"fmt"
	"strings"
	"time"
)

// Encode renders the media playlist back to manifest text. The ordered
// segment URI sequence and the media sequence base survive a parse/encode
// round trip; unknown tags are re-emitted after the header.
func (m *Media) Encode() string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	if m.Version != nil {
		fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", *m.Version)
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", m.TargetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", m.MediaSequenceBase)
	if m.DiscontinuitySequenceBase != 0 {
		fmt.Fprintf(&b, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", m.DiscontinuitySequenceBase)
	}
	if m.PlaylistType != "" {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", m.PlaylistType)
	}
	for _, line := range m.Unknown {
		b.WriteString(line)
		b.WriteString("\n")
	}

	for _, seg := range m.Segments {
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		for _, dr := range seg.DateRanges {
			fmt.Fprintf(&b, "#EXT-X-DATERANGE:%s\n", dr.Raw)
		}
		if seg.ProgramDateTime != nil {
			fmt.Fprintf(&b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", seg.ProgramDateTime.Format(time.RFC3339Nano))
		}
		if seg.CueOut {
			if seg.CueOutDuration > 0 {
				fmt.Fprintf(&b, "#EXT-X-CUE-OUT:%g\n", seg.CueOutDuration)
			} else {
				b.WriteString("#EXT-X-CUE-OUT\n")
			}
		}
		if seg.CueOutCont {
			b.WriteString("#EXT-X-CUE-OUT-CONT\n")
		}
		if seg.CueIn {
			b.WriteString("#EXT-X-CUE-IN\n")
		}
		if seg.Gap {
			b.WriteString("#EXT-X-GAP\n")
		}
		if seg.Title != "" {
			fmt.Fprintf(&b, "#EXTINF:%.3f,%s\n", seg.Duration, seg.Title)
		} else {
			fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		}
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	if m.EndList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}
