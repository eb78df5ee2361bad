package provision

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestValidationError tests the message shape and the helper across
// wrapping.
func TestValidationError(t *testing.T) {
	cause := errors.New("bridge \"vmbr7\" is not configured on this host")
	err := &ValidationError{Check: "bridge", Err: cause}

	if !strings.Contains(err.Error(), "bridge") {
		t.Errorf("expected the check name in the message, got: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to unwrap")
	}

	if !IsValidationError(err) {
		t.Error("expected IsValidationError on the error itself")
	}
	wrapped := &PipelineError{Stage: StageValidating, Err: err}
	if !IsValidationError(wrapped) {
		t.Error("expected IsValidationError through a pipeline wrapper")
	}
	if IsValidationError(errors.New("unrelated")) {
		t.Error("unexpected IsValidationError on an unrelated error")
	}
	if IsValidationError(nil) {
		t.Error("unexpected IsValidationError on nil")
	}
}

// TestDownloadExhaustedError tests attempt reporting and unwrap.
func TestDownloadExhaustedError(t *testing.T) {
	cause := errors.New("503 service unavailable")
	err := &DownloadExhaustedError{Attempts: 3, Err: cause}

	if !strings.Contains(err.Error(), "3") {
		t.Errorf("expected the attempt count in the message, got: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the final attempt's error to unwrap")
	}
}

// TestVolumeTimeoutError tests both message forms: no candidate resolved
// versus a resolved path that never became visible.
func TestVolumeTimeoutError(t *testing.T) {
	unresolved := &VolumeTimeoutError{VMID: 9999, Pool: "local-lvm", Attempts: 30}
	if !strings.Contains(unresolved.Error(), "no disk volume") {
		t.Errorf("unexpected message: %v", unresolved)
	}
	if !strings.Contains(unresolved.Error(), "local-lvm") {
		t.Errorf("expected the pool in the message: %v", unresolved)
	}

	dark := &VolumeTimeoutError{VMID: 9999, Pool: "local-lvm", Attempts: 30, Path: "/dev/pve/base-9999-disk-0"}
	if !strings.Contains(dark.Error(), "/dev/pve/base-9999-disk-0") {
		t.Errorf("expected the device path in the message: %v", dark)
	}
	if !strings.Contains(dark.Error(), "not visible") {
		t.Errorf("unexpected message: %v", dark)
	}

	if !IsVolumeTimeout(fmt.Errorf("wait: %w", dark)) {
		t.Error("expected IsVolumeTimeout through wrapping")
	}
	if IsVolumeTimeout(errors.New("unrelated")) {
		t.Error("unexpected IsVolumeTimeout on an unrelated error")
	}
}

// TestPipelineError tests that the terminal error names the stage and
// preserves the cause.
func TestPipelineError(t *testing.T) {
	cause := &VolumeTimeoutError{VMID: 9999, Pool: "local-lvm", Attempts: 30}
	err := &PipelineError{Stage: StageAwaitingImportedDisk, Err: cause}

	if !strings.Contains(err.Error(), string(StageAwaitingImportedDisk)) {
		t.Errorf("expected the stage in the message, got: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to unwrap")
	}
	if !IsVolumeTimeout(err) {
		t.Error("expected the cause type to remain reachable through the wrapper")
	}
}
