package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/example/research-orchestrator/internal/tools"
)

const defaultDuckDuckGoURL = "https://lite.duckduckgo.com/lite/"

// DuckDuckGo scrapes the DuckDuckGo lite HTML interface. It needs no API key;
// all instances share one 1 query/s limiter.
type DuckDuckGo struct {
	URL    string
	client *http.Client
}

func NewDuckDuckGo() *DuckDuckGo {
	return NewDuckDuckGoWithClient(&http.Client{Timeout: 15 * time.Second})
}

func NewDuckDuckGoWithClient(client *http.Client) *DuckDuckGo {
	return &DuckDuckGo{URL: defaultDuckDuckGoURL, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is empty")
	}
	form := url.Values{}
	form.Set("q", query)
	body := form.Encode()

	resp, err := doWithBackoff(ctx, d.client, limiterFor("duckduckgo", 1), func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}
	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}
	return parseLiteResults(root, limit(maxResults)), nil
}

// parseLiteResults walks the lite page: each a.result-link starts a result and
// the next td.result-snippet fills its content.
func parseLiteResults(root *html.Node, max int) []Result {
	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && tools.HasClass(n, "result-link"):
				if len(results) < max {
					href := unwrapRedirect(strings.TrimSpace(tools.Attr(n, "href")))
					title := tools.NodeText(n)
					if href != "" && title != "" {
						results = append(results, Result{URL: href, Title: title})
					}
				}
				return
			case n.Data == "td" && tools.HasClass(n, "result-snippet"):
				if k := len(results); k > 0 && results[k-1].Content == "" {
					results[k-1].Content = tools.NodeText(n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// unwrapRedirect turns DuckDuckGo's /l/?uddg=<target> links into the target.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
