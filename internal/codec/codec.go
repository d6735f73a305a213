// Package codec serializes deployment reports for export and re-display.
package codec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"espdeploy/internal/domain"
)

// Importer reads a report from a format
type Importer interface {
	Parse(r io.Reader) (*domain.Report, error)
	Format() string
}

// Exporter writes a report in a format
type Exporter interface {
	Export(report *domain.Report, w io.Writer) error
	Format() string
}

// Codec is both
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for "json" or "yaml"
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, &domain.ConfigurationError{What: fmt.Sprintf("unknown report format %q (want json or yaml)", format)}
	}
}

// ForPath picks a codec from a file extension, defaulting to JSON
func ForPath(path string) Codec {
	if c, err := ForFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return c
	}
	return NewJSONCodec()
}

// ExportFile writes the report to path in the format its extension names
func ExportFile(report *domain.Report, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := ForPath(path).Export(report, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImportFile reads a report saved by ExportFile
func ImportFile(path string) (*domain.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()
	return ForPath(path).Parse(f)
}
