package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gdeltsync/internal/domain"
)

// Gsutil invokes an external object-storage copy tool ("gsutil cp" by
// default) for one local file per call.
type Gsutil struct {
	Tool   string
	DryRun bool

	// Echo receives the exact command line before every invocation, dry-run
	// or not. Defaults to os.Stdout.
	Echo io.Writer

	bucket string
	prefix string
}

// New normalizes the bucket (trailing slash stripped) and prefix (exactly one
// trailing slash when non-empty) once, up front.
func New(tool, bucket, prefix string, dryRun bool) *Gsutil {
	bucket = strings.TrimRight(bucket, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Gsutil{
		Tool:   tool,
		DryRun: dryRun,
		Echo:   os.Stdout,
		bucket: bucket,
		prefix: prefix,
	}
}

// Dest computes the destination identifier for a local path.
func (g *Gsutil) Dest(localPath string) string {
	return g.bucket + "/" + g.prefix + filepath.Base(localPath)
}

// Upload copies localPath to the bucket. The command line is always printed
// first; in dry-run mode nothing else happens. The tool is resolved on PATH
// before execution and a missing binary reports ErrToolNotFound rather than
// a command failure. A non-zero exit surfaces both output streams through
// UploadError.
func (g *Gsutil) Upload(ctx context.Context, localPath string) error {
	dest := g.Dest(localPath)

	args := []string{"cp"}
	if fi, err := os.Stat(localPath); err == nil && fi.IsDir() {
		args = append(args, "-r")
	}
	args = append(args, localPath, dest)

	fmt.Fprintf(g.Echo, "RUN: %s %s\n", g.Tool, strings.Join(args, " "))

	if g.DryRun {
		return nil
	}

	bin, err := exec.LookPath(g.Tool)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, g.Tool)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return &domain.UploadError{
			Dest:     dest,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return nil
}
