package provision

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of the template pipeline. The pipeline is a single fixed
// linear sequence; the only branch is the rollback path.
type Stage string

const (
	StageValidating            Stage = "Validating"
	StageDownloading           Stage = "Downloading"
	StageCreating              Stage = "Creating"
	StageImporting             Stage = "Importing"
	StageAwaitingImportedDisk  Stage = "AwaitingImportedDisk"
	StageConfiguring           Stage = "Configuring"
	StageResizing              Stage = "Resizing"
	StageAwaitingResizedDisk   Stage = "AwaitingResizedDisk"
	StageApplyingGuestDefaults Stage = "ApplyingGuestDefaults"
	StageConvertingToTemplate  Stage = "ConvertingToTemplate"
	StageDone                  Stage = "Done"
	StageRollingBack           Stage = "RollingBack"
	StageFailed                Stage = "Failed"
)

// pipeline is the forward stage order. Rollback stages are not part of it.
var pipeline = []Stage{
	StageValidating,
	StageDownloading,
	StageCreating,
	StageImporting,
	StageAwaitingImportedDisk,
	StageConfiguring,
	StageResizing,
	StageAwaitingResizedDisk,
	StageApplyingGuestDefaults,
	StageConvertingToTemplate,
	StageDone,
}

// stageIndex returns the stage's position in the forward pipeline, or -1 for
// the rollback stages.
func stageIndex(s Stage) int {
	for i, stage := range pipeline {
		if stage == s {
			return i
		}
	}
	return -1
}

// RollbackEligible reports whether a failure in s can leave a partially
// created guest behind. Stages before Creating have created nothing;
// ConvertingToTemplate is irreversible - once conversion has been issued the
// guest may already be referenced as a clone source, so a failure there is
// reported without destroying anything.
func RollbackEligible(s Stage) bool {
	i := stageIndex(s)
	return i >= stageIndex(StageCreating) && i < stageIndex(StageConvertingToTemplate)
}

// State is the mutable record of one run, owned exclusively by the
// orchestrator. It is discarded at the end of the run, together with the
// scratch directory it references.
type State struct {
	RunID string
	Stage Stage

	// VMID is the resolved guest identity, 0 until Creating assigns it.
	VMID int

	// VolumeName and VolumePath identify the imported primary disk. The
	// name is backend-dependent and resolved lazily by the disk waiter;
	// once resolved it is authoritative for the remainder of the run.
	VolumeName string
	VolumePath string

	// Created is set once the guest identity exists on the host. Rollback
	// only ever destroys a guest this run created.
	Created bool

	// ImagePath is the downloaded and verified image inside ScratchDir.
	ImagePath   string
	ImageSHA256 string

	// SeedISOPath is the NoCloud seed written to the host ISO library when
	// custom user-data is in play. Empty otherwise.
	SeedISOPath string

	ScratchDir string

	StartedAt  time.Time
	FinishedAt time.Time
}

// newState opens a run in Validating.
func newState() *State {
	return &State{
		RunID:     uuid.NewString(),
		Stage:     StageValidating,
		StartedAt: time.Now(),
	}
}

// advance transitions the run to the given stage, enforcing the legal
// transitions: forward one stage at a time, RollingBack only from stages
// that can leave a partial guest, and Failed only from the stages that
// terminate without rollback plus RollingBack itself.
func (s *State) advance(to Stage) error {
	switch to {
	case StageRollingBack:
		if !RollbackEligible(s.Stage) {
			return fmt.Errorf("cannot roll back from stage %s", s.Stage)
		}
	case StageFailed:
		switch s.Stage {
		case StageValidating, StageDownloading, StageConvertingToTemplate, StageRollingBack:
		default:
			return fmt.Errorf("cannot fail directly from stage %s", s.Stage)
		}
		s.FinishedAt = time.Now()
	case StageDone:
		if s.Stage != StageConvertingToTemplate {
			return fmt.Errorf("cannot complete from stage %s", s.Stage)
		}
		s.FinishedAt = time.Now()
	default:
		i := stageIndex(s.Stage)
		if i < 0 || i+1 >= len(pipeline) || pipeline[i+1] != to {
			return fmt.Errorf("illegal transition %s -> %s", s.Stage, to)
		}
	}
	s.Stage = to
	return nil
}

// Terminal reports whether the run has reached an end state.
func (s *State) Terminal() bool {
	return s.Stage == StageDone || s.Stage == StageFailed
}

// Duration is the wall-clock span of the run so far, or of the whole run
// once a terminal stage is reached.
func (s *State) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
