package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gdeltsync/internal/domain"
)

// ZIP file signatures (magic bytes)
var zipSignatures = [][]byte{
	{0x50, 0x4B, 0x03, 0x04}, // Standard ZIP
	{0x50, 0x4B, 0x05, 0x06}, // Empty ZIP
	{0x50, 0x4B, 0x07, 0x08}, // Spanned ZIP
}

// CSVZip extracts the .csv members of a zip archive, flattening any internal
// directory structure into the destination directory.
type CSVZip struct{}

func NewCSVZip() *CSVZip {
	return &CSVZip{}
}

// Name returns the extractor name
func (z *CSVZip) Name() string {
	return "ZIP"
}

// CanExtract checks the file name for a .zip suffix, case-insensitively.
func (z *CSVZip) CanExtract(filePath string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(filePath)), ".zip")
}

// Extract writes every member ending in .csv (case-insensitive) to destDir
// under its base name, overwriting existing files. Members without the
// suffix are ignored; a zip with no .csv members yields an empty result and
// no error. A structurally invalid archive yields CorruptArchiveError.
func (z *CSVZip) Extract(ctx context.Context, archivePath string, destDir string) ([]string, error) {
	ok, err := hasZipSignature(archivePath)
	if err != nil {
		return nil, &domain.CorruptArchiveError{Path: archivePath, Err: err}
	}
	if !ok {
		return nil, &domain.CorruptArchiveError{Path: archivePath, Err: fmt.Errorf("missing ZIP signature")}
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &domain.CorruptArchiveError{Path: archivePath, Err: err}
	}
	defer r.Close()

	var extracted []string
	for _, member := range r.File {
		select {
		case <-ctx.Done():
			return extracted, ctx.Err()
		default:
		}

		if member.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(member.Name), ".csv") {
			continue
		}

		// Flatten: "a/b/file1.csv" lands as "file1.csv".
		target := filepath.Join(destDir, filepath.Base(filepath.FromSlash(member.Name)))
		if err := writeMember(member, target); err != nil {
			return extracted, &domain.CorruptArchiveError{Path: archivePath, Err: err}
		}
		extracted = append(extracted, target)
	}

	return extracted, nil
}

func writeMember(member *zip.File, target string) error {
	rc, err := member.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", member.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("decompress member %s: %w", member.Name, err)
	}

	return out.Close()
}

// hasZipSignature checks if the file has a valid ZIP magic byte signature
func hasZipSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(file, header)
	if err != nil && n < 4 {
		return false, nil
	}

	for _, sig := range zipSignatures {
		if bytes.Equal(header, sig) {
			return true, nil
		}
	}

	return false, nil
}
