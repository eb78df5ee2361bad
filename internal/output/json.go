package output

import (
	"encoding/json"
	"fmt"

	"github.com/bkonick/kiln/internal/provision"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatReport formats a build report as JSON.
func (f *JSONFormatter) FormatReport(report *provision.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatGuest formats a guest status as JSON.
func (f *JSONFormatter) FormatGuest(info *GuestInfo) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal guest status to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
