package main

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Track is one playable catalog entry. Tracks are immutable once loaded.
type Track struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Artist     string       `json:"artist"`
	ArtworkURL string       `json:"artwork_url"`
	SourceURL  string       `json:"source_url"`
	Duration   float64      `json:"duration"` // nominal display duration in seconds
	Lyrics     []LyricEntry `json:"lyrics"`
}

// CatalogSource loads the ordered list of playable tracks.
//
// Implementations return normalized tracks (see normalizeTracks) or an error
// whose message is suitable for showing to the user.
type CatalogSource interface {
	Name() string
	Load(ctx context.Context) ([]Track, error)
}

// ErrEmptyCatalog is returned when a source yields no playable tracks.
var ErrEmptyCatalog = errors.New("no signals detected in the cloud")

// normalizeTracks validates loader output at the boundary: records without an
// id or audio source are dropped, text fields are trimmed, a missing duration
// falls back to defaultDuration, and lyric timelines are normalized. Tracks with
// no lyrics get the scripted status timeline.
func normalizeTracks(in []Track, defaultDuration float64) []Track {
	out := make([]Track, 0, len(in))
	for _, t := range in {
		t.ID = strings.TrimSpace(t.ID)
		t.SourceURL = strings.TrimSpace(t.SourceURL)
		if t.ID == "" || t.SourceURL == "" {
			continue
		}
		t.Title = strings.TrimSpace(t.Title)
		t.Artist = strings.TrimSpace(t.Artist)
		t.ArtworkURL = strings.TrimSpace(t.ArtworkURL)

		if t.Duration <= 0 || math.IsNaN(t.Duration) || math.IsInf(t.Duration, 0) {
			t.Duration = defaultDuration
		}

		if len(t.Lyrics) == 0 {
			t.Lyrics = ScriptedLyrics(t.ID, t.Artist)
		} else {
			t.Lyrics = normalizeTimeline(t.Lyrics)
		}
		out = append(out, t)
	}
	return out
}
