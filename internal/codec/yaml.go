package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"espdeploy/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Parse reads a report from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Report, error) {
	var report domain.Report
	if err := yaml.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &report, nil
}

// Export writes a report as YAML. Durations render as "1.5s".
func (c *YAMLCodec) Export(report *domain.Report, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
