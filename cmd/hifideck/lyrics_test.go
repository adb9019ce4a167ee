package main

import (
	"math"
	"strings"
	"testing"
)

func TestResolveLyric(t *testing.T) {
	timeline := []LyricEntry{
		{Time: 2, Text: "a"},
		{Time: 4, Text: "b"},
		{Time: 8, Text: "c"},
	}
	tests := []struct {
		t    float64
		want int
	}{
		{-1, 0},
		{0, 0},
		{1.99, 0},
		{2, 0},
		{4, 1},
		{7.9, 1},
		{8, 2},
		{1000, 2},
	}
	for _, tt := range tests {
		if got := ResolveLyric(timeline, tt.t); got != tt.want {
			t.Errorf("ResolveLyric(t=%v) = %d, want %d", tt.t, got, tt.want)
		}
	}

	if got := ResolveLyric(nil, 3); got != NoActiveLyric {
		t.Errorf("empty timeline = %d, want NoActiveLyric", got)
	}
	if got := ResolveLyric(timeline, math.NaN()); got != 0 {
		t.Errorf("NaN time = %d, want 0", got)
	}
}

func TestResolveLyric_SharedTimestampPicksLast(t *testing.T) {
	timeline := []LyricEntry{
		{Time: 0, Text: "a"},
		{Time: 5, Text: "b"},
		{Time: 5, Text: "c"},
	}
	if got := ResolveLyric(timeline, 5); got != 2 {
		t.Fatalf("ResolveLyric = %d, want 2", got)
	}
}

func TestScriptedLyrics(t *testing.T) {
	lines := ScriptedLyrics("1440857781", "The Midnight")
	if len(lines) != 7 {
		t.Fatalf("expected 7 scripted lines, got %d", len(lines))
	}
	for i, l := range lines {
		if l.Time != float64(i*4) {
			t.Errorf("line %d at %v, want %d", i, l.Time, i*4)
		}
	}
	if lines[1].Text != "TRACK ID: 1440857781" {
		t.Errorf("line 1 = %q", lines[1].Text)
	}
	if lines[3].Text != "ARTIST: THE MIDNIGHT" {
		t.Errorf("line 3 = %q", lines[3].Text)
	}

	// Position 13s shows the artist line.
	if got := ResolveLyric(lines, 13); lines[got].Text != "ARTIST: THE MIDNIGHT" {
		t.Errorf("at 13s got %q", lines[got].Text)
	}
}

func TestParseLRC(t *testing.T) {
	doc := strings.Join([]string{
		"[ar:Some Artist]",
		"[ti:Some Title]",
		"[offset:500]",
		"[00:00.20]intro",
		"[00:01.50]one",
		"[00:03.00][00:05.00]two",
		"[00:04.0]three",
		"",
		"free text without tags",
	}, "\n")

	got, err := ParseLRC(doc)
	if err != nil {
		t.Fatalf("ParseLRC: %v", err)
	}

	want := []LyricEntry{
		{Time: 0, Text: "intro"}, // -0.3 clamps to 0
		{Time: 1.0, Text: "one"},
		{Time: 2.5, Text: "two"},
		{Time: 3.5, Text: "three"},
		{Time: 4.5, Text: "two"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Text != want[i].Text || math.Abs(got[i].Time-want[i].Time) > 1e-9 {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseLRC_Errors(t *testing.T) {
	for _, doc := range []string{
		"[00:75.00]bad seconds",
		"[offset:soon]",
	} {
		if _, err := ParseLRC(doc); err == nil {
			t.Errorf("ParseLRC(%q) succeeded, want error", doc)
		}
	}
}

func TestNormalizeTimeline_StableSortAndClamp(t *testing.T) {
	in := []LyricEntry{
		{Time: 5, Text: "late"},
		{Time: -2, Text: "negative"},
		{Time: 1, Text: "x"},
		{Time: 1, Text: "y"},
	}
	out := normalizeTimeline(in)

	wantTexts := []string{"negative", "x", "y", "late"}
	for i, w := range wantTexts {
		if out[i].Text != w {
			t.Fatalf("out[%d] = %q, want %q", i, out[i].Text, w)
		}
	}
	if out[0].Time != 0 {
		t.Fatalf("negative time not clamped: %v", out[0].Time)
	}
	if in[1].Time != -2 {
		t.Fatalf("input mutated")
	}
}
