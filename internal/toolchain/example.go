package toolchain

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"espdeploy/internal/domain"
)

//go:embed example.ino
var exampleSketch []byte

// WriteExample writes the example web server sketch in the layout
// arduino-cli expects. A path ending in .ino becomes <dir>/<name>/<name>.ino,
// any other path is taken as the sketch directory. An existing file is never
// overwritten.
func WriteExample(path string) (string, error) {
	var dir, name string
	if strings.EqualFold(filepath.Ext(path), ".ino") {
		name = SketchName(path)
		dir = filepath.Join(filepath.Dir(path), name)
	} else {
		dir = filepath.Clean(path)
		name = filepath.Base(dir)
	}
	file := filepath.Join(dir, name+".ino")

	if _, err := os.Stat(file); err == nil {
		return "", &domain.ConfigurationError{What: file + " already exists"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sketch dir: %w", err)
	}
	if err := os.WriteFile(file, exampleSketch, 0o644); err != nil {
		return "", fmt.Errorf("write example: %w", err)
	}
	return file, nil
}
