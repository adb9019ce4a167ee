package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileSource loads a catalog from a local YAML file:
//
//	tracks:
//	  - id: "1"
//	    title: Midnight City
//	    artist: M83
//	    artwork_url: https://...
//	    source_url: https://.../song.mp3
//	    duration_sec: 180
//	    lyrics:
//	      - {time: 0, text: Waiting in a car}
//	  - id: "2"
//	    ...
//	    lrc: |
//	      [00:00.00]first line
//
// Each entry may carry either a lyrics list or an LRC block.
type FileSource struct {
	path            string
	previewDuration float64
}

func NewFileSource(path string, previewDuration float64) *FileSource {
	return &FileSource{path: ExpandPath(path), previewDuration: previewDuration}
}

func (s *FileSource) Name() string { return "file" }

type catalogFile struct {
	Tracks []catalogFileTrack `yaml:"tracks"`
}

type catalogFileTrack struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Artist      string       `yaml:"artist"`
	ArtworkURL  string       `yaml:"artwork_url"`
	SourceURL   string       `yaml:"source_url"`
	DurationSec float64      `yaml:"duration_sec"`
	Lyrics      []LyricEntry `yaml:"lyrics"`
	LRC         string       `yaml:"lrc"`
}

func (s *FileSource) Load(ctx context.Context) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var doc catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	raw := make([]Track, 0, len(doc.Tracks))
	for i, ft := range doc.Tracks {
		lyrics := ft.Lyrics
		if ft.LRC != "" {
			if len(ft.Lyrics) > 0 {
				return nil, fmt.Errorf("catalog track %d: lyrics and lrc are mutually exclusive", i)
			}
			parsed, err := ParseLRC(ft.LRC)
			if err != nil {
				return nil, fmt.Errorf("catalog track %d: %w", i, err)
			}
			lyrics = parsed
		}
		raw = append(raw, Track{
			ID:         ft.ID,
			Title:      ft.Title,
			Artist:     ft.Artist,
			ArtworkURL: ft.ArtworkURL,
			SourceURL:  ft.SourceURL,
			Duration:   ft.DurationSec,
			Lyrics:     lyrics,
		})
	}

	tracks := normalizeTracks(raw, s.previewDuration)
	if len(tracks) == 0 {
		return nil, ErrEmptyCatalog
	}
	return tracks, nil
}

// catalogReloadDebounce absorbs the burst of events editors produce on save.
const catalogReloadDebounce = 250 * time.Millisecond

// WatchCatalogFile emits ReloadCatalog whenever the catalog file is written,
// created or renamed into place. The parent directory is watched so atomic
// replace-on-save keeps working. Runs until ctx is canceled.
func WatchCatalogFile(ctx context.Context, path string, events chan<- Event, logger *slog.Logger) error {
	path = filepath.Clean(ExpandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("watching catalog file", "path", path)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(catalogReloadDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(catalogReloadDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			logger.Info("catalog file changed; reloading", "path", path)
			select {
			case events <- ReloadCatalog{}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}
