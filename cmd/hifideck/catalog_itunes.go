package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ITunesSource loads preview tracks from the iTunes Search API.
type ITunesSource struct {
	baseURL         string
	term            string
	limit           int
	previewDuration float64
	client          *http.Client
	logger          *slog.Logger
}

// NewITunesSource builds a search client. timeout bounds each request.
func NewITunesSource(cfg ITunesConfig, previewDuration float64, logger *slog.Logger) *ITunesSource {
	return &ITunesSource{
		baseURL:         cfg.BaseURL,
		term:            cfg.Term,
		limit:           cfg.Limit,
		previewDuration: previewDuration,
		client:          &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		logger:          logger,
	}
}

func (s *ITunesSource) Name() string { return "itunes" }

// itunesResponse is the subset of the search response we use.
type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

type itunesResult struct {
	TrackID       int64  `json:"trackId"`
	TrackName     string `json:"trackName"`
	ArtistName    string `json:"artistName"`
	ArtworkURL100 string `json:"artworkUrl100"`
	PreviewURL    string `json:"previewUrl"`
}

// Load runs one search request. There is no retry; a failed load is terminal
// until the user reloads.
func (s *ITunesSource) Load(ctx context.Context) ([]Track, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid itunes base url: %w", err)
	}
	q := u.Query()
	q.Set("term", s.term)
	q.Set("media", "music")
	q.Set("entity", "song")
	q.Set("limit", strconv.Itoa(s.limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("catalog request", "url", u.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("music database connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("music database connection failed: HTTP %d", resp.StatusCode)
	}

	var body itunesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if body.ResultCount == 0 || len(body.Results) == 0 {
		return nil, ErrEmptyCatalog
	}

	raw := make([]Track, 0, len(body.Results))
	for _, r := range body.Results {
		if r.TrackID == 0 {
			continue
		}
		raw = append(raw, Track{
			ID:         strconv.FormatInt(r.TrackID, 10),
			Title:      r.TrackName,
			Artist:     r.ArtistName,
			ArtworkURL: upgradeArtwork(r.ArtworkURL100),
			SourceURL:  r.PreviewURL,
			Duration:   s.previewDuration,
		})
	}

	tracks := normalizeTracks(raw, s.previewDuration)
	if len(tracks) == 0 {
		return nil, ErrEmptyCatalog
	}
	if dropped := len(body.Results) - len(tracks); dropped > 0 {
		s.logger.Debug("catalog dropped unplayable results", "dropped", dropped)
	}
	return tracks, nil
}

// upgradeArtwork swaps the 100px thumbnail for the 600px rendition.
func upgradeArtwork(u string) string {
	return strings.Replace(u, "100x100bb", "600x600bb", 1)
}
