package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"gdeltsync/internal/domain"
)

// Scraper finds export file links on a GDELT-style index page.
type Scraper struct {
	IndexURL string
	client   *http.Client
}

func New(indexURL string, timeout time.Duration) *Scraper {
	return &Scraper{
		IndexURL: indexURL,
		client:   &http.Client{Timeout: timeout},
	}
}

// ExportLinks fetches the index page and returns, in document order, the
// absolute URL of every anchor whose href contains "export" (case
// insensitive). Duplicates are kept. An empty page yields an empty slice.
func (s *Scraper) ExportLinks(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.IndexURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: s.IndexURL, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: s.IndexURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{URL: s.IndexURL, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	base, err := url.Parse(s.IndexURL)
	if err != nil {
		return nil, &domain.FetchError{URL: s.IndexURL, Err: err}
	}

	var links []string
	z := html.NewTokenizer(resp.Body)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF marks the end of the document; anything else is a
			// read error from the body.
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, &domain.FetchError{URL: s.IndexURL, Err: err}
			}
			return links, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "href" {
					continue
				}
				if !strings.Contains(strings.ToLower(attr.Val), "export") {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				links = append(links, base.ResolveReference(ref).String())
			}
		}
	}
}
