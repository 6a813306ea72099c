package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchMaxBytes = 2 << 20
	defaultFetchMaxChars = 8000
	defaultPDFMaxPages   = 20
)

// Fetcher downloads a URL and returns its readable text. HTML is converted
// with HTMLToText, PDF with PDFToText, text/* is returned as is. Output is
// truncated to MaxChars.
type Fetcher struct {
	Client      *http.Client
	MaxBytes    int
	MaxChars    int
	MaxPDFPages int
	UserAgent   string
}

func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", errors.New("fetch url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", ua)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch http %d", resp.StatusCode)
	}

	max := f.MaxBytes
	if max <= 0 {
		max = defaultFetchMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(max)))
	if err != nil {
		return "", err
	}

	var text string
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "application/pdf") || strings.HasSuffix(strings.ToLower(url), ".pdf"):
		pages := f.MaxPDFPages
		if pages <= 0 {
			pages = defaultPDFMaxPages
		}
		text, err = PDFToText(ctx, body, pages)
	case strings.Contains(ct, "html") || ct == "":
		text, err = HTMLToText(string(body))
	case strings.HasPrefix(ct, "text/"):
		text = strings.TrimSpace(string(body))
	default:
		return "", fmt.Errorf("unsupported content type %q", ct)
	}
	if err != nil {
		return "", err
	}
	return Truncate(text, f.maxChars()), nil
}

func (f *Fetcher) maxChars() int {
	if f.MaxChars > 0 {
		return f.MaxChars
	}
	return defaultFetchMaxChars
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
