// Package youtube fetches video transcripts.
package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrNoTranscript is returned when a video exposes no caption track.
var ErrNoTranscript = errors.New("no transcript available for this video")

// Transcript is the full text of a caption track and its language code.
type Transcript struct {
	Text     string
	Language string
}

// TranscriptSource fetches the transcript of a video by id.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string) (Transcript, error)
}

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)

// ExtractVideoID returns the 11-character id embedded in a YouTube URL.
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var languageNames = map[string]string{
	"en": "English",
	"ja": "Japanese",
	"es": "Spanish",
	"fr": "French",
	"ko": "Korean",
	"de": "German",
	"zh": "Chinese",
}

// LanguageName maps a language code to a display name, falling back to the
// code itself.
func LanguageName(code string) string {
	base, _, _ := strings.Cut(strings.ToLower(code), "-")
	if n, ok := languageNames[base]; ok {
		return n
	}
	return code
}

// SameLanguage reports whether two codes name the same base language
// ("en" and "en-US" match).
func SameLanguage(a, b string) bool {
	a, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(a)), "-")
	b, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(b)), "-")
	return a != "" && a == b
}

const defaultWatchURL = "https://www.youtube.com/watch"

// HTTPSource reads the caption track list embedded in the watch page and
// downloads the chosen track. Manually created tracks win over generated
// ones.
type HTTPSource struct {
	WatchURL string
	client   *http.Client
}

func NewHTTPSource() *HTTPSource {
	return &HTTPSource{WatchURL: defaultWatchURL, client: &http.Client{Timeout: 20 * time.Second}}
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

func (s *HTTPSource) Fetch(ctx context.Context, videoID string) (Transcript, error) {
	page, err := s.get(ctx, s.WatchURL+"?v="+url.QueryEscape(videoID)+"&hl=en")
	if err != nil {
		return Transcript{}, fmt.Errorf("watch page: %w", err)
	}
	tracks, err := parseCaptionTracks(page)
	if err != nil {
		return Transcript{}, err
	}
	track, ok := pickTrack(tracks)
	if !ok {
		return Transcript{}, ErrNoTranscript
	}
	raw, err := s.get(ctx, track.BaseURL)
	if err != nil {
		return Transcript{}, fmt.Errorf("caption track: %w", err)
	}
	text, err := parseTimedText(raw)
	if err != nil {
		return Transcript{}, err
	}
	if text == "" {
		return Transcript{}, ErrNoTranscript
	}
	return Transcript{Text: text, Language: track.LanguageCode}, nil
}

func (s *HTTPSource) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const captionTracksKey = `"captionTracks":`

func parseCaptionTracks(page string) ([]captionTrack, error) {
	i := strings.Index(page, captionTracksKey)
	if i < 0 {
		return nil, ErrNoTranscript
	}
	var tracks []captionTrack
	dec := json.NewDecoder(strings.NewReader(page[i+len(captionTracksKey):]))
	if err := dec.Decode(&tracks); err != nil {
		return nil, fmt.Errorf("caption tracks: %w", err)
	}
	return tracks, nil
}

func pickTrack(tracks []captionTrack) (captionTrack, bool) {
	for _, t := range tracks {
		if t.Kind != "asr" && t.BaseURL != "" {
			return t, true
		}
	}
	for _, t := range tracks {
		if t.BaseURL != "" {
			return t, true
		}
	}
	return captionTrack{}, false
}

// parseTimedText joins the <text> segments of a timedtext document with
// single spaces.
func parseTimedText(raw string) (string, error) {
	var doc struct {
		Texts []string `xml:"text"`
	}
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("timedtext: %w", err)
	}
	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		t = strings.Join(strings.Fields(html.UnescapeString(t)), " ")
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
