package provision

import (
	"errors"
	"fmt"
)

// ValidationError reports a failed precondition. Validation runs before any
// resource is created, so no rollback accompanies it.
type ValidationError struct {
	Check string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("precondition failed (%s): %v", e.Check, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DownloadExhaustedError reports that the download retry budget was spent
// without producing one verified image. Nothing has been created on the host
// when this is returned, so no rollback accompanies it either.
type DownloadExhaustedError struct {
	Attempts int
	Err      error
}

func (e *DownloadExhaustedError) Error() string {
	return fmt.Sprintf("no verified image after %d download attempts: %v", e.Attempts, e.Err)
}

func (e *DownloadExhaustedError) Unwrap() error {
	return e.Err
}

// VolumeTimeoutError indicates a disk volume never became addressable within
// the polling budget. Path is empty when no candidate name ever resolved.
type VolumeTimeoutError struct {
	VMID     int
	Pool     string
	Attempts int
	Path     string
}

func (e *VolumeTimeoutError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("no disk volume for guest %d resolved in pool %s after %d attempts", e.VMID, e.Pool, e.Attempts)
	}
	return fmt.Sprintf("volume %s for guest %d not visible after %d attempts", e.Path, e.VMID, e.Attempts)
}

// IsVolumeTimeout reports whether err wraps a *VolumeTimeoutError.
func IsVolumeTimeout(err error) bool {
	var vte *VolumeTimeoutError
	return errors.As(err, &vte)
}

// PipelineError is the single terminal failure a run reports: the stage that
// failed plus the underlying cause. Rollback happens before this is returned,
// and rollback's own outcome never replaces the original cause.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
