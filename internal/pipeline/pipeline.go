package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gdeltsync/internal/config"
	"gdeltsync/internal/domain"
	"gdeltsync/internal/extraction"
	"gdeltsync/internal/infra/logger"
	"gdeltsync/internal/journal"
)

// Stage names the step of the per-link state machine a result settled in.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageExpand Stage = "expand"
	StageUpload Stage = "upload"
	StageDone   Stage = "done"
)

// LinkResult is the outcome of handling one discovered link. Failures are
// values, not panics: the driver inspects Err to decide whether the link
// reached StageDone.
type LinkResult struct {
	URL       string
	LocalPath string
	Stage     Stage
	Uploaded  []string
	Err       error
}

func (r LinkResult) Failed() bool { return r.Err != nil }

// Report is the run state, built by return value as the loop advances.
type Report struct {
	RunID       string
	LinksFound  int
	Processed   int
	Results     []LinkResult
	Interrupted bool
}

// Failures counts links that did not reach StageDone cleanly.
func (r *Report) Failures() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

type LinkSource interface {
	ExportLinks(ctx context.Context) ([]string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

// Pipeline drives links through fetch, optional expansion and upload,
// strictly one link at a time.
type Pipeline struct {
	cfg       *config.Config
	log       *logger.Logger
	links     LinkSource
	fetcher   Fetcher
	extractor extraction.Extractor
	uploader  Uploader
	journal   *journal.Journal // nil when journaling is disabled
}

func New(cfg *config.Config, log *logger.Logger, links LinkSource, f Fetcher, x extraction.Extractor, u Uploader, j *journal.Journal) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		log:       log,
		links:     links,
		fetcher:   f,
		extractor: x,
		uploader:  u,
		journal:   j,
	}
}

// Run processes discovered links until the list, the optional cap, or the
// context runs out. Per-link failures are logged and recorded, never fatal;
// only link discovery itself can fail the run.
func (p *Pipeline) Run(ctx context.Context, runID string) (*Report, error) {
	if err := os.MkdirAll(p.cfg.DownloadsDir, 0755); err != nil {
		return nil, err
	}

	links, err := p.links.ExportLinks(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, LinksFound: len(links)}

	if p.journal != nil {
		if err := p.journal.StartRun(ctx, runID, len(links)); err != nil {
			p.log.Warn("journal: failed to record run start: %v", err)
		}
	}

	if len(links) == 0 {
		p.log.Info("No export links found on page.")
		p.finishJournal(report)
		return report, nil
	}

	p.log.Info("Found %d links containing 'export'.", len(links))

	for _, link := range links {
		if ctx.Err() != nil {
			report.Interrupted = true
			p.log.Warn("Run interrupted, stopping before next link.")
			break
		}
		if p.cfg.MaxItems > 0 && report.Processed >= p.cfg.MaxItems {
			p.log.Info("Reached max items cap (%d), stopping.", p.cfg.MaxItems)
			break
		}

		res := p.processLink(ctx, link)
		report.Results = append(report.Results, res)
		// Upload failures do not block the counter; the link was handled.
		report.Processed++

		p.record(runID, res)
	}

	p.finishJournal(report)
	return report, nil
}

func (p *Pipeline) processLink(ctx context.Context, link string) LinkResult {
	res := LinkResult{URL: link, Stage: StageFetch}

	p.log.Info("Downloading: %s", link)
	local, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		res.Err = err
		p.log.Error("Error processing %s: %v", link, err)
		return res
	}
	res.LocalPath = local
	p.log.Info("Saved: %s", local)

	if p.extractor.CanExtract(local) {
		res.Stage = StageExpand
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}

		extracted, err := p.extractor.Extract(ctx, local, p.cfg.DownloadsDir)
		if err != nil {
			// Corrupt archive: skip this link entirely, no upload attempted.
			res.Err = err
			p.log.Error("Error processing %s: %v", link, err)
			return res
		}
		if len(extracted) == 0 {
			p.log.Info("No CSV members in %s.", filepath.Base(local))
		}

		res.Stage = StageUpload
		res.Uploaded, err = p.uploadCSVSweep(ctx)
		if err != nil {
			res.Err = err
			return res
		}

		if p.cfg.Cleanup {
			if err := os.Remove(local); err != nil {
				p.log.Warn("Cleanup failed for %s: %v", local, err)
			}
		}
	} else {
		res.Stage = StageUpload
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if err := p.upload(ctx, local); err != nil {
			res.Err = err
			return res
		}
		res.Uploaded = []string{local}
	}

	res.Stage = StageDone
	return res
}

// uploadCSVSweep uploads every .csv currently in the downloads directory, not
// just newly extracted members. Re-sending CSVs left over from a prior
// partial run is deliberate at-least-once behavior.
func (p *Pipeline) uploadCSVSweep(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.cfg.DownloadsDir)
	if err != nil {
		return nil, err
	}

	var uploaded []string
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}

		path := filepath.Join(p.cfg.DownloadsDir, e.Name())
		if err := p.upload(ctx, path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded = append(uploaded, path)
	}
	return uploaded, firstErr
}

func (p *Pipeline) upload(ctx context.Context, local string) error {
	err := p.uploader.Upload(ctx, local)
	if err == nil {
		return nil
	}

	p.log.Error("Upload failed for %s: %v", local, err)
	var ue *domain.UploadError
	if errors.As(err, &ue) {
		if ue.Stdout != "" {
			p.log.Error("%s stdout: %s", local, strings.TrimSpace(ue.Stdout))
		}
		if ue.Stderr != "" {
			p.log.Error("%s stderr: %s", local, strings.TrimSpace(ue.Stderr))
		}
	}
	return err
}

func (p *Pipeline) record(runID string, res LinkResult) {
	if p.journal == nil {
		return
	}

	status := "done"
	detail := ""
	if res.Failed() {
		status = "failed"
		detail = res.Err.Error()
	}

	// Background context: the run context may already be cancelled and the
	// row should still land.
	err := p.journal.RecordTransfer(context.Background(), journal.Transfer{
		RunID:     runID,
		URL:       res.URL,
		LocalPath: res.LocalPath,
		Stage:     string(res.Stage),
		Status:    status,
		Detail:    detail,
		Uploaded:  len(res.Uploaded),
	})
	if err != nil {
		p.log.Warn("journal: failed to record transfer for %s: %v", res.URL, err)
	}
}

func (p *Pipeline) finishJournal(report *Report) {
	if p.journal == nil {
		return
	}
	// Use a fresh context: the run one may already be cancelled and the
	// journal row should still close.
	if err := p.journal.FinishRun(context.Background(), report.RunID, report.Processed); err != nil {
		p.log.Warn("journal: failed to record run finish: %v", err)
	}
}
