package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"gdeltsync/internal/domain"
)

// Fetcher downloads remote files into a local directory, streaming through a
// temp file so the final name is never observable half-written.
type Fetcher struct {
	Dir    string
	client *http.Client
}

func New(dir string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		Dir:    dir,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads rawURL into the fetcher's directory and returns the local
// path. If the final file already exists it is returned untouched, with no
// network access. Any stale temp file for the same target is discarded before
// the transfer starts.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	name, err := localName(rawURL)
	if err != nil {
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}

	dest := filepath.Join(f.Dir, name)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	tmp := tempPath(dest)
	// A leftover .part is an interrupted transfer from a prior run; never
	// trust it.
	_ = os.Remove(tmp)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	if err := f.writeTemp(tmp, resp.Body); err != nil {
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}

	return dest, nil
}

func (f *Fetcher) writeTemp(tmp string, body io.Reader) error {
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}

	// Sync before rename so a crash cannot surface a complete-looking final
	// file with missing blocks.
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}

// localName derives the on-disk file name from the URL's final path segment.
func localName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("no usable file name in URL path %q", u.Path)
	}
	return name, nil
}

// tempPath swaps the destination's extension for ".part", so
// "20230101.export.CSV.zip" transfers as "20230101.export.CSV.part".
func tempPath(dest string) string {
	ext := filepath.Ext(dest)
	return dest[:len(dest)-len(ext)] + ".part"
}
