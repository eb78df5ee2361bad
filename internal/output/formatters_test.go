package output

import (
	"strings"
	"testing"

	"github.com/bkonick/kiln/internal/provision"
)

// testReport creates a finished build report for testing.
func testReport() *provision.Report {
	return &provision.Report{
		RunID:       "3f2c9a44-7a1b-4f61-9d57-6de2ab6c0a01",
		Stage:       provision.StageDone,
		VMID:        9001,
		Name:        "noble-docker",
		Release:     "noble",
		Storage:     "local-lvm",
		VolumeName:  "base-9001-disk-0",
		ImageSHA256: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Duration:    "4m12s",
	}
}

func TestTableFormatter_FormatReport(t *testing.T) {
	tests := []struct {
		name       string
		report     *provision.Report
		noHeaders  bool
		wantFields []string
		wantHeader bool
	}{
		{
			name:       "finished build",
			report:     testReport(),
			wantFields: []string{"9001", "noble-docker", "Done", "noble", "local-lvm", "4m12s"},
			wantHeader: true,
		},
		{
			name: "failed before an identity existed",
			report: &provision.Report{
				Stage:   provision.StageFailed,
				Name:    "noble-docker",
				Release: "noble",
				Storage: "local-lvm",
			},
			wantFields: []string{"-", "Failed"},
			wantHeader: true,
		},
		{
			name: "dry run",
			report: &provision.Report{
				Stage:   provision.StageDone,
				Name:    "noble-docker",
				Release: "noble",
				Storage: "local-lvm",
				DryRun:  true,
			},
			wantFields: []string{"(dry run)"},
			wantHeader: true,
		},
		{
			name:       "no headers",
			report:     testReport(),
			noHeaders:  true,
			wantFields: []string{"9001"},
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatReport(tt.report)
			if err != nil {
				t.Fatalf("FormatReport() error = %v", err)
			}

			for _, field := range tt.wantFields {
				if !strings.Contains(output, field) {
					t.Errorf("output missing %q: %s", field, output)
				}
			}

			hasHeader := strings.Contains(output, "VMID") && strings.Contains(output, "STAGE")
			if tt.wantHeader && !hasHeader {
				t.Errorf("expected header in output, got: %s", output)
			}
			if !tt.wantHeader && hasHeader {
				t.Errorf("expected no header in output, got: %s", output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := 1
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestTableFormatter_FormatGuest(t *testing.T) {
	formatter := &TableFormatter{}
	output, err := formatter.FormatGuest(&GuestInfo{VMID: 9001, Status: "stopped"})
	if err != nil {
		t.Fatalf("FormatGuest() error = %v", err)
	}

	if !strings.Contains(output, "9001") || !strings.Contains(output, "stopped") {
		t.Errorf("output missing guest fields: %s", output)
	}
	if !strings.Contains(output, "VMID") || !strings.Contains(output, "STATUS") {
		t.Errorf("expected header in output, got: %s", output)
	}
}

func TestYAMLFormatter_FormatReport(t *testing.T) {
	formatter := &YAMLFormatter{}
	output, err := formatter.FormatReport(testReport())
	if err != nil {
		t.Fatalf("FormatReport() error = %v", err)
	}

	requiredFields := []string{
		"run_id: 3f2c9a44-7a1b-4f61-9d57-6de2ab6c0a01",
		"stage: Done",
		"vmid: 9001",
		"name: noble-docker",
		"release: noble",
		"storage: local-lvm",
		"volume: base-9001-disk-0",
		"image_sha256:",
		"duration: 4m12s",
	}
	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}

	// The dry-run flag is omitted for real runs.
	if strings.Contains(output, "dry_run") {
		t.Errorf("unexpected dry_run field for a real run: %s", output)
	}
}

func TestYAMLFormatter_FormatGuest(t *testing.T) {
	formatter := &YAMLFormatter{}
	output, err := formatter.FormatGuest(&GuestInfo{VMID: 9001, Status: "running"})
	if err != nil {
		t.Fatalf("FormatGuest() error = %v", err)
	}

	if !strings.Contains(output, "vmid: 9001") || !strings.Contains(output, "status: running") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestJSONFormatter_FormatReport(t *testing.T) {
	formatter := &JSONFormatter{}
	output, err := formatter.FormatReport(testReport())
	if err != nil {
		t.Fatalf("FormatReport() error = %v", err)
	}

	requiredFields := []string{
		`"run_id": "3f2c9a44-7a1b-4f61-9d57-6de2ab6c0a01"`,
		`"stage": "Done"`,
		`"vmid": 9001`,
		`"name": "noble-docker"`,
		`"volume": "base-9001-disk-0"`,
		`"duration": "4m12s"`,
	}
	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}

	if !strings.HasSuffix(output, "\n") {
		t.Error("expected trailing newline")
	}
}

func TestJSONFormatter_FormatGuest(t *testing.T) {
	formatter := &JSONFormatter{}
	output, err := formatter.FormatGuest(&GuestInfo{VMID: 9001, Status: "absent"})
	if err != nil {
		t.Fatalf("FormatGuest() error = %v", err)
	}

	if !strings.Contains(output, `"vmid": 9001`) || !strings.Contains(output, `"status": "absent"`) {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
