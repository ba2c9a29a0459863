package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdeltsync/internal/config"
	"gdeltsync/internal/extraction"
	"gdeltsync/internal/fetch"
	"gdeltsync/internal/infra/logger"
	"gdeltsync/internal/scrape"
)

type fakeUploader struct {
	uploaded []string
	failOn   map[string]error
	onUpload func(path string)
}

func (f *fakeUploader) Upload(ctx context.Context, localPath string) error {
	if f.onUpload != nil {
		f.onUpload(localPath)
	}
	if err, ok := f.failOn[filepath.Base(localPath)]; ok {
		return err
	}
	f.uploaded = append(f.uploaded, localPath)
	return nil
}

func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// testServer serves an index page built from the given file names plus each
// file's body, counting download hits per file.
func testServer(t *testing.T, files map[string][]byte, order []string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var downloads atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for _, name := range order {
			fmt.Fprintf(w, `<a href="%s">%s</a>`, name, name)
		}
		fmt.Fprint(w, "</body></html>")
	})
	for name, body := range files {
		b := body
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, r *http.Request) {
			downloads.Add(1)
			w.Write(b)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &downloads
}

func newPipeline(t *testing.T, srv *httptest.Server, cfg *config.Config, up Uploader) *Pipeline {
	t.Helper()
	return New(
		cfg,
		logger.NewNop(),
		scrape.New(srv.URL+"/index.html", 5*time.Second),
		fetch.New(cfg.DownloadsDir, 5*time.Second),
		extraction.NewCSVZip(),
		up,
		nil,
	)
}

func TestRun(t *testing.T) {
	t.Run("zip link: fetch, expand, upload sweep, cleanup", func(t *testing.T) {
		archive := zipBytes(t, map[string]string{"20230101.export.CSV": "a,b\n"})
		srv, _ := testServer(t,
			map[string][]byte{"20230101.export.CSV.zip": archive},
			[]string{"20230101.export.CSV.zip"})

		cfg := &config.Config{DownloadsDir: t.TempDir(), Cleanup: true}
		up := &fakeUploader{}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 1, report.LinksFound)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, 0, report.Failures())
		require.Len(t, report.Results, 1)
		assert.Equal(t, StageDone, report.Results[0].Stage)

		// Extracted CSV was uploaded
		csv := filepath.Join(cfg.DownloadsDir, "20230101.export.CSV")
		assert.Equal(t, []string{csv}, up.uploaded)
		_, err = os.Stat(csv)
		assert.NoError(t, err)

		// Cleanup removed the archive
		_, err = os.Stat(filepath.Join(cfg.DownloadsDir, "20230101.export.CSV.zip"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("non-zip link is uploaded directly", func(t *testing.T) {
		srv, _ := testServer(t,
			map[string][]byte{"20230101.export.CSV": []byte("a,b\n")},
			[]string{"20230101.export.CSV"})

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		up := &fakeUploader{}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, []string{filepath.Join(cfg.DownloadsDir, "20230101.export.CSV")}, up.uploaded)
	})

	t.Run("max items caps downloads, remaining links untouched", func(t *testing.T) {
		files := map[string][]byte{}
		var order []string
		for i := 1; i <= 5; i++ {
			name := fmt.Sprintf("2023010%d.export.CSV", i)
			files[name] = []byte("a,b\n")
			order = append(order, name)
		}
		srv, downloads := testServer(t, files, order)

		cfg := &config.Config{DownloadsDir: t.TempDir(), MaxItems: 2}
		up := &fakeUploader{}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 5, report.LinksFound)
		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, int32(2), downloads.Load())
	})

	t.Run("fetch failure is isolated, the run continues", func(t *testing.T) {
		srv, _ := testServer(t,
			map[string][]byte{"ok.export.CSV": []byte("a,b\n")},
			[]string{"missing.export.CSV", "ok.export.CSV"})

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		up := &fakeUploader{}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 1, report.Failures())
		require.Len(t, report.Results, 2)
		assert.Equal(t, StageFetch, report.Results[0].Stage)
		assert.True(t, report.Results[0].Failed())
		assert.Equal(t, StageDone, report.Results[1].Stage)
		assert.Len(t, up.uploaded, 1)
	})

	t.Run("corrupt archive skips upload for that link only", func(t *testing.T) {
		archive := zipBytes(t, map[string]string{"good.export.CSV": "a,b\n"})
		srv, _ := testServer(t,
			map[string][]byte{
				"bad.export.CSV.zip":  []byte("not a zip"),
				"good.export.CSV.zip": archive,
			},
			[]string{"bad.export.CSV.zip", "good.export.CSV.zip"})

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		up := &fakeUploader{}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 2, report.Processed)
		require.Len(t, report.Results, 2)
		assert.Equal(t, StageExpand, report.Results[0].Stage)
		assert.True(t, report.Results[0].Failed())
		assert.Equal(t, []string{filepath.Join(cfg.DownloadsDir, "good.export.CSV")}, up.uploaded)
	})

	t.Run("upload failure still advances the counter", func(t *testing.T) {
		srv, _ := testServer(t,
			map[string][]byte{
				"first.export.CSV":  []byte("a\n"),
				"second.export.CSV": []byte("b\n"),
			},
			[]string{"first.export.CSV", "second.export.CSV"})

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		up := &fakeUploader{failOn: map[string]error{"first.export.CSV": errors.New("exit status 1")}}

		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 1, report.Failures())
		assert.Len(t, up.uploaded, 1)
	})

	t.Run("sweep re-uploads pre-existing CSVs after an expansion", func(t *testing.T) {
		archive := zipBytes(t, map[string]string{"new.export.CSV": "n\n"})
		srv, _ := testServer(t,
			map[string][]byte{"bundle.export.zip": archive},
			[]string{"bundle.export.zip"})

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		leftover := filepath.Join(cfg.DownloadsDir, "leftover.csv")
		require.NoError(t, os.WriteFile(leftover, []byte("old\n"), 0644))

		up := &fakeUploader{}
		report, err := newPipeline(t, srv, cfg, up).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 0, report.Failures())
		assert.ElementsMatch(t, []string{
			leftover,
			filepath.Join(cfg.DownloadsDir, "new.export.CSV"),
		}, up.uploaded)
	})

	t.Run("cancellation stops before the next link", func(t *testing.T) {
		files := map[string][]byte{}
		var order []string
		for i := 1; i <= 3; i++ {
			name := fmt.Sprintf("file%d.export.CSV", i)
			files[name] = []byte("a\n")
			order = append(order, name)
		}
		srv, downloads := testServer(t, files, order)

		ctx, cancel := context.WithCancel(context.Background())
		cfg := &config.Config{DownloadsDir: t.TempDir()}
		up := &fakeUploader{onUpload: func(string) { cancel() }}

		report, err := newPipeline(t, srv, cfg, up).Run(ctx, "run-1")
		require.NoError(t, err)

		assert.True(t, report.Interrupted)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, int32(1), downloads.Load())
	})

	t.Run("empty index page completes with nothing processed", func(t *testing.T) {
		srv, _ := testServer(t, nil, nil)

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		report, err := newPipeline(t, srv, cfg, &fakeUploader{}).Run(context.Background(), "run-1")
		require.NoError(t, err)

		assert.Equal(t, 0, report.LinksFound)
		assert.Equal(t, 0, report.Processed)
	})

	t.Run("discovery failure fails the run", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfg := &config.Config{DownloadsDir: t.TempDir()}
		p := New(cfg, logger.NewNop(),
			scrape.New(srv.URL+"/index.html", 5*time.Second),
			fetch.New(cfg.DownloadsDir, 5*time.Second),
			extraction.NewCSVZip(), &fakeUploader{}, nil)

		_, err := p.Run(context.Background(), "run-1")
		assert.Error(t, err)
	})
}
