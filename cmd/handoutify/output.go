package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var errOutputExists = errors.New("output file already exists")

// defaultOutputPath strips a trailing .pdf (any case) and appends suffix.
func defaultOutputPath(input, suffix string) string {
	base := input
	if ext := filepath.Ext(input); strings.EqualFold(ext, ".pdf") {
		base = strings.TrimSuffix(input, ext)
	}
	return base + suffix + ".pdf"
}

// writeOutput never leaves a partial file at path. Without overwrite the file
// is created exclusively; with it the data goes to a temporary file in the
// same directory which is then renamed over path.
func writeOutput(path string, overwrite bool, write func(io.Writer) error) error {
	if !overwrite {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s (use -overwrite to replace it)", errOutputExists, path)
		}
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		if err := writeAndClose(f, write); err != nil {
			os.Remove(path)
			return err
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeAndClose(tmp, write); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

func writeAndClose(f *os.File, write func(io.Writer) error) error {
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// verifyOutput reloads path with pdfcpu, an independent reader, and checks
// the page count.
func verifyOutput(path string, wantPages int) error {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if pdfCtx.PageCount != wantPages {
		return fmt.Errorf("verify %s: pdfcpu reports %d pages, want %d", path, pdfCtx.PageCount, wantPages)
	}
	return nil
}
