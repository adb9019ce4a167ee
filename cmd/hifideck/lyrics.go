package main

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// LyricEntry is one timed line of a track's lyric timeline.
type LyricEntry struct {
	Time float64 `json:"time" yaml:"time"` // seconds from track start, >= 0
	Text string  `json:"text" yaml:"text"`
}

// NoActiveLyric is returned by ResolveLyric for an empty timeline.
const NoActiveLyric = -1

// ResolveLyric returns the index of the last entry whose timestamp is at or
// before t. Before the first timestamp it returns 0; for an empty timeline it
// returns NoActiveLyric. The timeline must be sorted ascending by Time.
func ResolveLyric(timeline []LyricEntry, t float64) int {
	if len(timeline) == 0 {
		return NoActiveLyric
	}
	if math.IsNaN(t) {
		return 0
	}
	i := sort.Search(len(timeline), func(i int) bool { return timeline[i].Time > t }) - 1
	if i < 0 {
		return 0
	}
	return i
}

// normalizeTimeline clamps negative timestamps to zero and stable-sorts the
// entries so lines sharing a timestamp keep their authored order.
func normalizeTimeline(in []LyricEntry) []LyricEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]LyricEntry, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Time < 0 || math.IsNaN(out[i].Time) {
			out[i].Time = 0
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// ScriptedLyrics builds the status-readout timeline shown for catalog entries
// that carry no lyrics of their own.
func ScriptedLyrics(trackID, artist string) []LyricEntry {
	return []LyricEntry{
		{Time: 0, Text: "• SYSTEM LINK ESTABLISHED •"},
		{Time: 4, Text: "TRACK ID: " + trackID},
		{Time: 8, Text: "DECODING FLAC STREAM..."},
		{Time: 12, Text: "ARTIST: " + strings.ToUpper(artist)},
		{Time: 16, Text: "AUDIO SPECTRUM: NORMAL"},
		{Time: 20, Text: "BUFFER INTEGRITY: 100%"},
		{Time: 24, Text: "• REPEAT SEQUENCE •"},
	}
}

// lrcTimeTag matches [mm:ss], [mm:ss.xx] and [mm:ss:xx] tags.
var lrcTimeTag = regexp.MustCompile(`\[(\d+):(\d{1,2})(?:[.:](\d{1,3}))?\]`)

// ParseLRC parses an LRC lyric document. A line may carry several time tags,
// metadata tags such as [ar:...] are skipped and an [offset:ms] tag shifts all
// timestamps. The result is normalized.
func ParseLRC(text string) ([]LyricEntry, error) {
	var entries []LyricEntry
	offset := 0.0

	sc := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(strings.ToLower(line), "[offset:") && strings.HasSuffix(line, "]") {
			v := strings.TrimSpace(line[len("[offset:") : len(line)-1])
			ms, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("lrc line %d: invalid offset %q", lineNo, v)
			}
			// Positive offsets make lyrics appear sooner.
			offset = -float64(ms) / 1000
			continue
		}

		tags := lrcTimeTag.FindAllStringSubmatchIndex(line, -1)
		if len(tags) == 0 || tags[0][0] != 0 {
			// Metadata or free text.
			continue
		}

		// Tags must be contiguous at the start of the line.
		end := 0
		var times []float64
		for _, m := range tags {
			if m[0] != end {
				break
			}
			end = m[1]
			mins, _ := strconv.Atoi(line[m[2]:m[3]])
			sec, _ := strconv.Atoi(line[m[4]:m[5]])
			if sec >= 60 {
				return nil, fmt.Errorf("lrc line %d: seconds out of range", lineNo)
			}
			frac := 0.0
			if m[6] >= 0 {
				digits := line[m[6]:m[7]]
				f, _ := strconv.Atoi(digits)
				frac = float64(f) / math.Pow10(len(digits))
			}
			times = append(times, float64(mins*60+sec)+frac)
		}

		body := strings.TrimSpace(line[end:])
		for _, ts := range times {
			entries = append(entries, LyricEntry{Time: ts + offset, Text: body})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lrc: %w", err)
	}

	return normalizeTimeline(entries), nil
}
