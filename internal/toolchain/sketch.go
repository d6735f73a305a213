package toolchain

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"espdeploy/internal/domain"
)

var (
	setupRe = regexp.MustCompile(`void\s+setup\s*\(\s*\)`)
	loopRe  = regexp.MustCompile(`void\s+loop\s*\(\s*\)`)
)

// SketchName returns the sketch base name without extension
func SketchName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// CheckSketch verifies the file defines setup() and loop(). A non-.ino
// extension is reported as a warning.
func CheckSketch(path string) (warnings []string, err error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigurationError{What: "sketch " + path, Err: err}
	}
	if !strings.EqualFold(filepath.Ext(path), ".ino") {
		warnings = append(warnings, fmt.Sprintf("%s does not have an .ino extension", filepath.Base(path)))
	}

	var missing []string
	if !setupRe.Match(src) {
		missing = append(missing, "void setup()")
	}
	if !loopRe.Match(src) {
		missing = append(missing, "void loop()")
	}
	if len(missing) > 0 {
		return warnings, &domain.ConfigurationError{What: fmt.Sprintf("sketch %s is missing %s", path, strings.Join(missing, " and "))}
	}
	if bytes.Contains(src, []byte("ESP8266WiFi.h")) && !bytes.Contains(src, []byte("/api/status")) {
		warnings = append(warnings, "sketch uses WiFi but serves no /api/status endpoint; discovery will rely on the root page")
	}
	return warnings, nil
}

// StageSketch copies a sketch into <tmp>/espdeploy/<name>/<name>.ino, the
// layout arduino-cli requires. The returned cleanup removes the staging dir.
func StageSketch(path, tmpRoot string) (dir string, cleanup func(), err error) {
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return "", nil, &domain.ConfigurationError{What: "sketch " + path, Err: err}
	}

	name := SketchName(path)
	dir = filepath.Join(tmpRoot, "espdeploy", name)
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".ino"), src, 0o644); err != nil {
		return "", nil, fmt.Errorf("stage sketch: %w", err)
	}

	return dir, func() { os.RemoveAll(dir) }, nil
}
