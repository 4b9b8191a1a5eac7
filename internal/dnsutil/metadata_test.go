package dnsutil

import (
	"strings"
	"testing"
	"time"
)

func TestMetadataRoundTrip(t *testing.T) {
	update := time.Unix(1722600000, 0)
	m := Metadata{
		First:  update.Add(-time.Hour),
		Last:   update.Add(-time.Minute),
		Update: update,
		Score:  2.315,
	}

	s := EncodeMetadata(m)
	if !strings.Contains(s, "first=-3600") || !strings.Contains(s, "last=-60") {
		t.Error("Deltas should be non-positive seconds relative to update:", s)
	}
	if !strings.Contains(s, "update=1722600000") {
		t.Error("Update should be absolute Unix seconds:", s)
	}

	back, err := ParseMetadata(s)
	if err != nil {
		t.Fatal("Unexpected parse error", err)
	}
	if !back.First.Equal(m.First) || !back.Last.Equal(m.Last) || !back.Update.Equal(m.Update) {
		t.Error("Timestamps did not survive the round trip", back)
	}
	if back.Score < 2.314 || back.Score > 2.316 {
		t.Error("Score did not survive the round trip", back.Score)
	}
}

func TestParseMetadataErrors(t *testing.T) {
	if _, err := ParseMetadata("first=-10;last=0;score=1.0"); err == nil {
		t.Error("Missing update should be an error")
	}
	if _, err := ParseMetadata("junk"); err == nil {
		t.Error("Malformed element should be an error")
	}
	if _, err := ParseMetadata("update=abc"); err == nil {
		t.Error("Non-numeric update should be an error")
	}

	// Unknown keys are tolerated for format growth
	m, err := ParseMetadata("update=1000;future=xyzzy")
	if err != nil {
		t.Fatal("Unknown key should be tolerated", err)
	}
	if m.Update.Unix() != 1000 {
		t.Error("Update mis-parsed", m.Update.Unix())
	}
}
