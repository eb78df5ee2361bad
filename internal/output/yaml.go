package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bkonick/kiln/internal/provision"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatReport formats a build report as YAML.
func (f *YAMLFormatter) FormatReport(report *provision.Report) (string, error) {
	data, err := yaml.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to YAML: %w", err)
	}
	return string(data), nil
}

// FormatGuest formats a guest status as YAML.
func (f *YAMLFormatter) FormatGuest(info *GuestInfo) (string, error) {
	data, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal guest status to YAML: %w", err)
	}
	return string(data), nil
}
