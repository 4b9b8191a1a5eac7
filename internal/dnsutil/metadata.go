package dnsutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata is the payload published alongside each synthesized PTR in a companion TXT record. It
// records when the forward resolution was first and last seen, when the zone entry was written and
// the heuristic score at that moment.
type Metadata struct {
	First  time.Time
	Last   time.Time
	Update time.Time
	Score  float64
}

// EncodeMetadata renders the TXT rdata string. The wire format is
// "first=<Δ>;last=<Δ>;update=<absolute>;score=<float>" where 'update' is Unix seconds and the
// first/last deltas are non-positive offsets in seconds relative to 'update' - so first=-3600
// means the resolution was first observed an hour before the entry was published.
func EncodeMetadata(m Metadata) string {
	return fmt.Sprintf("first=%d;last=%d;update=%d;score=%0.3f",
		m.First.Unix()-m.Update.Unix(),
		m.Last.Unix()-m.Update.Unix(),
		m.Update.Unix(),
		m.Score)
}

// ParseMetadata is the inverse of EncodeMetadata. It is tolerant of unknown keys so the format can
// grow without breaking older agents re-reading the zone at startup.
func ParseMetadata(s string) (Metadata, error) {
	var m Metadata
	var firstDelta, lastDelta, update int64
	var haveUpdate bool

	for _, kv := range strings.Split(s, ";") {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return m, fmt.Errorf("dnsutil: malformed metadata element '%s'", kv)
		}
		key, val := kv[:eq], kv[eq+1:]
		switch key {
		case "first":
			d, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return m, fmt.Errorf("dnsutil: bad first delta '%s': %w", val, err)
			}
			firstDelta = d
		case "last":
			d, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return m, fmt.Errorf("dnsutil: bad last delta '%s': %w", val, err)
			}
			lastDelta = d
		case "update":
			d, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return m, fmt.Errorf("dnsutil: bad update time '%s': %w", val, err)
			}
			update = d
			haveUpdate = true
		case "score":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return m, fmt.Errorf("dnsutil: bad score '%s': %w", val, err)
			}
			m.Score = f
		}
	}

	if !haveUpdate {
		return m, fmt.Errorf("dnsutil: metadata lacks update time: '%s'", s)
	}
	m.Update = time.Unix(update, 0)
	m.First = time.Unix(update+firstDelta, 0)
	m.Last = time.Unix(update+lastDelta, 0)

	return m, nil
}
