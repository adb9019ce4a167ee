package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNormalizeTracks(t *testing.T) {
	in := []Track{
		{ID: " 1 ", Title: " Plastic Love ", Artist: "Mariya Takeuchi", SourceURL: " https://cdn.example/1.m4a "},
		{ID: "", SourceURL: "https://cdn.example/nope.m4a"},
		{ID: "3", SourceURL: ""},
		{ID: "4", SourceURL: "https://cdn.example/4.m4a", Duration: 212,
			Lyrics: []LyricEntry{{Time: 9, Text: "b"}, {Time: -1, Text: "a"}}},
	}
	out := normalizeTracks(in, 29)

	if len(out) != 2 {
		t.Fatalf("kept %d tracks, want 2", len(out))
	}
	first := out[0]
	if first.ID != "1" || first.Title != "Plastic Love" || first.SourceURL != "https://cdn.example/1.m4a" {
		t.Fatalf("first = %+v", first)
	}
	if first.Duration != 29 {
		t.Fatalf("missing duration not defaulted: %v", first.Duration)
	}
	if len(first.Lyrics) == 0 || first.Lyrics[3].Text != "ARTIST: MARIYA TAKEUCHI" {
		t.Fatalf("scripted lyrics = %+v", first.Lyrics)
	}

	second := out[1]
	if second.Duration != 212 {
		t.Fatalf("duration = %v", second.Duration)
	}
	if second.Lyrics[0].Text != "a" || second.Lyrics[0].Time != 0 || second.Lyrics[1].Text != "b" {
		t.Fatalf("lyrics not normalized: %+v", second.Lyrics)
	}
	// Input is not mutated.
	if in[0].ID != " 1 " || in[3].Lyrics[0].Text != "b" {
		t.Fatalf("input mutated")
	}
}

func TestFileSource_Load(t *testing.T) {
	path := writeTempFile(t, "catalog.yaml", `
tracks:
  - id: "1"
    title: Midnight City
    artist: M83
    source_url: https://cdn.example/1.mp3
    duration_sec: 180
    lyrics:
      - {time: 0, text: Waiting in a car}
      - {time: 6.5, text: Waiting for a ride in the dark}
  - id: "2"
    title: Nightcall
    artist: Kavinsky
    source_url: https://cdn.example/2.mp3
    lrc: |
      [ar:Kavinsky]
      [00:01.50]first
      [00:00.00]zero
  - id: "3"
    title: unplayable
`)

	tracks, err := NewFileSource(path, 29).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].Duration != 180 || len(tracks[0].Lyrics) != 2 || tracks[0].Lyrics[1].Time != 6.5 {
		t.Fatalf("track 0 = %+v", tracks[0])
	}
	lrc := tracks[1].Lyrics
	if tracks[1].Duration != 29 || len(lrc) != 2 || lrc[0].Text != "zero" || lrc[1].Time != 1.5 {
		t.Fatalf("track 1 = %+v", tracks[1])
	}
}

func TestFileSource_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "tracks:\n  - id: \"1\"\n    url: x\n", "decode catalog yaml"},
		{"both lyric forms", "tracks:\n  - id: \"1\"\n    source_url: u\n    lyrics: [{time: 0, text: a}]\n    lrc: \"[00:00]a\"\n", "mutually exclusive"},
		{"nothing playable", "tracks:\n  - id: \"1\"\n", ErrEmptyCatalog.Error()},
	}
	for _, tt := range tests {
		path := writeTempFile(t, "catalog.yaml", tt.doc)
		_, err := NewFileSource(path, 29).Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}

	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), 29).Load(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestWatchCatalogFile_EmitsReload(t *testing.T) {
	path := writeTempFile(t, "catalog.yaml", "tracks: []\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- WatchCatalogFile(ctx, path, events, testLogger()) }()

	// The watcher is registered asynchronously. Each write is followed by a
	// quiet period longer than the debounce, so a missed write is retried.
	got := false
	for attempt := 0; attempt < 5 && !got; attempt++ {
		if err := os.WriteFile(path, []byte("tracks: []\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		select {
		case ev := <-events:
			if ev != (ReloadCatalog{}) {
				t.Fatalf("event = %#v", ev)
			}
			got = true
		case <-time.After(catalogReloadDebounce + 500*time.Millisecond):
		}
	}
	if !got {
		t.Fatalf("no reload after catalog write")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WatchCatalogFile: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop")
	}
}

func TestWatchCatalogFile_IgnoresSiblings(t *testing.T) {
	path := writeTempFile(t, "catalog.yaml", "tracks: []\n")
	sibling := filepath.Join(filepath.Dir(path), "notes.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	go WatchCatalogFile(ctx, path, events, testLogger())

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(sibling, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(catalogReloadDebounce + 200*time.Millisecond):
	}
}

func TestITunesSource_Load(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"resultCount":3,"results":[
			{"trackId":101,"trackName":"Resonance","artistName":"HOME","artworkUrl100":"https://img.example/a/100x100bb.jpg","previewUrl":"https://audio.example/101.m4a"},
			{"trackId":102,"trackName":"No Preview","artistName":"HOME"},
			{"trackId":0,"trackName":"Broken","previewUrl":"https://audio.example/0.m4a"}
		]}`)
	}))
	defer srv.Close()

	src := NewITunesSource(ITunesConfig{BaseURL: srv.URL, Term: "city pop", Limit: 25, TimeoutMS: 1000}, 29, testLogger())
	tracks, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, want := range []string{"term=city+pop", "limit=25", "media=music", "entity=song"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	tr := tracks[0]
	if tr.ID != "101" || tr.Duration != 29 || tr.ArtworkURL != "https://img.example/a/600x600bb.jpg" {
		t.Fatalf("track = %+v", tr)
	}
	if len(tr.Lyrics) == 0 || tr.Lyrics[1].Text != "TRACK ID: 101" {
		t.Fatalf("lyrics = %+v", tr.Lyrics)
	}
}

func TestITunesSource_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, "music database connection failed: HTTP 500"},
		{"no results", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"resultCount":0,"results":[]}`)
		}, ErrEmptyCatalog.Error()},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>`)
		}, "decode search response"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(tt.handler)
		src := NewITunesSource(ITunesConfig{BaseURL: srv.URL, Term: "x", Limit: 5, TimeoutMS: 1000}, 29, testLogger())
		_, err := src.Load(context.Background())
		srv.Close()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
}

func TestITunesSource_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewITunesSource(ITunesConfig{BaseURL: srv.URL, Term: "x", Limit: 5, TimeoutMS: 1000}, 29, testLogger())
	if _, err := src.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
