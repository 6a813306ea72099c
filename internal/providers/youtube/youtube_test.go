package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":          "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                         "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ?start=10":   "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?feature=x&v=abc_DEF-123": "abc_DEF-123",
	}
	for in, want := range cases {
		got, ok := ExtractVideoID(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ExtractVideoID("not a url")
	assert.False(t, ok)
}

func TestLanguageHelpers(t *testing.T) {
	assert.Equal(t, "English", LanguageName("en"))
	assert.Equal(t, "Korean", LanguageName("ko"))
	assert.Equal(t, "English", LanguageName("en-GB"))
	assert.Equal(t, "pt", LanguageName("pt"))
	assert.True(t, SameLanguage("en", "en-US"))
	assert.False(t, SameLanguage("en", "ko"))
	assert.False(t, SameLanguage("", ""))
}

func TestPickTrackPrefersManual(t *testing.T) {
	tr, ok := pickTrack([]captionTrack{
		{BaseURL: "gen", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "man", LanguageCode: "ja"},
	})
	require.True(t, ok)
	assert.Equal(t, "man", tr.BaseURL)

	tr, ok = pickTrack([]captionTrack{{BaseURL: "gen", LanguageCode: "en", Kind: "asr"}})
	require.True(t, ok)
	assert.Equal(t, "gen", tr.BaseURL)

	_, ok = pickTrack(nil)
	assert.False(t, ok)
}

func TestParseTimedText(t *testing.T) {
	out, err := parseTimedText(`<?xml version="1.0" encoding="utf-8" ?><transcript>
<text start="0" dur="1.5">Hello &amp;amp; welcome</text>
<text start="1.5" dur="2">to the   show</text>
<text start="3.5" dur="1"></text>
</transcript>`)
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome to the show", out)

	_, err = parseTimedText("<transcript><text>")
	assert.Error(t, err)
}

func TestHTTPSourceFetch(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch":
			assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("v"))
			_, _ = fmt.Fprintf(w, `<html><script>var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"%s/asr","languageCode":"en","kind":"asr"},{"baseUrl":"%s/manual","languageCode":"ko"}],"audioTracks":[]}}};</script></html>`, srv.URL, srv.URL)
		case "/manual":
			_, _ = fmt.Fprint(w, `<transcript><text start="0">안녕하세요</text><text start="1">여러분</text></transcript>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource()
	src.WatchURL = srv.URL + "/watch"
	tr, err := src.Fetch(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, Transcript{Text: "안녕하세요 여러분", Language: "ko"}, tr)
}

func TestHTTPSourceNoCaptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `<html>no captions here</html>`)
	}))
	defer srv.Close()

	src := NewHTTPSource()
	src.WatchURL = srv.URL
	_, err := src.Fetch(context.Background(), "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, ErrNoTranscript)
}
