// Package provision implements the template build pipeline: a single-run
// state machine that validates preconditions, downloads and verifies the
// upstream image with bounded retries, drives the guest through
// create/import/configure/resize, waits out storage-backend consistency
// lag, converts the guest to a template, and rolls back to a clean host on
// any failure.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bkonick/kiln/internal/cloudinit"
	"github.com/bkonick/kiln/internal/config"
	"github.com/bkonick/kiln/internal/metadata"
	"github.com/bkonick/kiln/internal/mirror"
	"github.com/bkonick/kiln/internal/proxmox"
	"github.com/bkonick/kiln/internal/retry"
)

// primaryDisk is the bus slot the imported volume is attached to and the
// disk reference passed to resize.
const primaryDisk = "scsi0"

// Options tune host-specific locations and provenance labeling.
type Options struct {
	// ISODir is where NoCloud seed ISOs are written. Defaults to the
	// local storage ISO library.
	ISODir string

	// Builder is recorded in template provenance, e.g. "kiln v1.2.0".
	Builder string
}

// Orchestrator owns the pipeline state for one run at a time. External
// calls are synchronous and never retried below this layer; the
// orchestrator alone decides which failures are safe to repeat.
type Orchestrator struct {
	guests  guestManager
	fetcher imageFetcher
	waiter  *DiskWaiter
	host    hostInspector
	retry   retry.Policy

	isoDir  string
	builder string
	log     *zap.Logger
}

// New builds an orchestrator over the real host: the Proxmox client, the
// image mirror, and the local host probes.
func New(client *proxmox.Client, downloader *mirror.Downloader, host *Host, logger *zap.Logger, opts Options) *Orchestrator {
	return newWithDeps(client, downloader, NewDiskWaiter(client, host, logger), host, logger, opts)
}

// newWithDeps accepts interfaces instead of concrete types, allowing tests
// to inject mocks.
func newWithDeps(guests guestManager, fetcher imageFetcher, waiter *DiskWaiter, host hostInspector, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ISODir == "" {
		opts.ISODir = DefaultISODir
	}
	if opts.Builder == "" {
		opts.Builder = "kiln"
	}
	return &Orchestrator{
		guests:  guests,
		fetcher: fetcher,
		waiter:  waiter,
		host:    host,
		retry:   retry.NewPolicy(),
		isoDir:  opts.ISODir,
		builder: opts.Builder,
		log:     logger,
	}
}

// Report is the user-facing summary of one run.
type Report struct {
	RunID        string `yaml:"run_id" json:"run_id"`
	Stage        Stage  `yaml:"stage" json:"stage"`
	VMID         int    `yaml:"vmid" json:"vmid"`
	Name         string `yaml:"name" json:"name"`
	Release      string `yaml:"release" json:"release"`
	Storage      string `yaml:"storage" json:"storage"`
	VolumeName   string `yaml:"volume,omitempty" json:"volume,omitempty"`
	ImageSHA256  string `yaml:"image_sha256,omitempty" json:"image_sha256,omitempty"`
	DiskExtraGiB int    `yaml:"disk_extra_gib" json:"disk_extra_gib"`
	DryRun       bool   `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	Duration     string `yaml:"duration" json:"duration"`
}

func newReport(st *State, req *config.TemplateRequest) *Report {
	return &Report{
		RunID:        st.RunID,
		Stage:        st.Stage,
		VMID:         st.VMID,
		Name:         req.Name,
		Release:      req.Release,
		Storage:      req.Storage,
		VolumeName:   st.VolumeName,
		ImageSHA256:  st.ImageSHA256,
		DiskExtraGiB: req.DiskExtraGiB,
		DryRun:       req.DryRun,
		Duration:     st.Duration().Round(time.Millisecond).String(),
	}
}

// Run executes the pipeline for one validated request. On success the
// returned report's Stage is Done and the report identifies the finished
// template. On failure the report's Stage is Failed and the returned error
// is a *PipelineError naming the stage that failed; rollback has already
// been attempted when the failed stage warranted it, and its outcome never
// masks the original error.
//
// The request must have been normalized and validated by the caller; Run
// re-validates as part of its own preflight.
func (o *Orchestrator) Run(ctx context.Context, req *config.TemplateRequest) (*Report, error) {
	st := newState()
	log := o.log.With(zap.String("run_id", st.RunID))
	log.Info("provisioning run starting",
		zap.String("name", req.Name),
		zap.String("release", req.Release),
		zap.String("storage", req.Storage),
		zap.Bool("dry_run", req.DryRun),
	)

	defer o.cleanupScratch(st)

	runErr := o.run(ctx, st, req)
	if runErr == nil {
		log.Info("run finished",
			zap.Int("vmid", st.VMID),
			zap.Duration("took", st.Duration()),
		)
		return newReport(st, req), nil
	}

	failed := st.Stage
	if RollbackEligible(st.Stage) {
		if err := st.advance(StageRollingBack); err == nil {
			// The run context may already be cancelled (signal-driven
			// aborts land here too); rollback gets a fresh context so
			// cleanup is not itself aborted.
			o.rollback(context.Background(), st)
		}
	}
	_ = st.advance(StageFailed)

	log.Error("provisioning run failed",
		zap.String("stage", string(failed)),
		zap.Error(runErr),
	)
	return newReport(st, req), &PipelineError{Stage: failed, Err: runErr}
}

// run drives the forward pipeline. It returns the first failure without
// attempting any cleanup; Run owns rollback.
func (o *Orchestrator) run(ctx context.Context, st *State, req *config.TemplateRequest) error {
	// Validating: nothing is created or downloaded until every
	// precondition holds.
	if err := o.validate(ctx, req); err != nil {
		return err
	}

	if req.DryRun {
		return o.dryRun(st, req)
	}

	if err := o.makeScratch(st, req); err != nil {
		return err
	}

	// Downloading: the image, the checksum manifest, and verification are
	// one retryable unit. A corrupted partial download is operationally
	// indistinguishable from a transient network fault, so both spend the
	// same budget.
	if err := st.advance(StageDownloading); err != nil {
		return err
	}
	attempt := 0
	err := o.retry.Do(ctx, func() error {
		attempt++
		path, digest, fetchErr := o.fetcher.Fetch(ctx, st.ScratchDir)
		if fetchErr != nil {
			o.log.Warn("download attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(fetchErr),
			)
			return fetchErr
		}
		st.ImagePath, st.ImageSHA256 = path, digest
		return nil
	})
	if err != nil {
		if exhausted, ok := retry.Exhausted(err); ok {
			return &DownloadExhaustedError{Attempts: exhausted.Attempts, Err: exhausted.Last}
		}
		return err
	}

	// Creating: from here on, failure triggers rollback.
	if err := st.advance(StageCreating); err != nil {
		return err
	}
	id := req.VMID
	if id == 0 {
		next, err := o.guests.NextFreeID(ctx)
		if err != nil {
			return err
		}
		id = next
		o.log.Info("auto-assigned guest identity", zap.Int("vmid", id))
	}
	// The identity must be observed absent before create: rollback
	// destroys whatever sits at st.VMID, and that must never be a guest
	// some other run owns.
	status, err := o.guests.Status(ctx, id)
	if err != nil {
		return err
	}
	if status.Present() {
		return fmt.Errorf("guest %d already exists (status: %s)", id, status)
	}
	st.VMID = id

	if err := o.guests.Create(ctx, id, proxmox.CreateOptions{
		Name:      req.Name,
		MemoryMiB: req.MemoryMiB,
		Cores:     req.Cores,
		Bridge:    req.Bridge,
	}); err != nil {
		return err
	}
	st.Created = true
	o.log.Info("guest created", zap.Int("vmid", id), zap.String("name", req.Name))

	// Importing
	if err := st.advance(StageImporting); err != nil {
		return err
	}
	if err := o.guests.ImportDisk(ctx, id, st.ImagePath, req.Storage); err != nil {
		return err
	}

	if err := st.advance(StageAwaitingImportedDisk); err != nil {
		return err
	}
	volName, volPath, err := o.waiter.Await(ctx, id, req.Storage, "")
	if err != nil {
		return err
	}
	st.VolumeName, st.VolumePath = volName, volPath

	// Configuring
	if err := st.advance(StageConfiguring); err != nil {
		return err
	}
	opts, err := o.configureOptions(st, req)
	if err != nil {
		return err
	}
	if err := o.guests.Configure(ctx, id, opts); err != nil {
		return err
	}

	// Resizing: resize is asynchronous on the backend too, so the same
	// consistency wait follows it.
	if err := st.advance(StageResizing); err != nil {
		return err
	}
	if req.DiskExtraGiB > 0 {
		if err := o.guests.Resize(ctx, id, primaryDisk, req.DiskExtraGiB); err != nil {
			return err
		}
	}
	if err := st.advance(StageAwaitingResizedDisk); err != nil {
		return err
	}
	if req.DiskExtraGiB > 0 {
		if _, _, err := o.waiter.Await(ctx, id, req.Storage, st.VolumeName); err != nil {
			return err
		}
	}

	// ApplyingGuestDefaults
	if err := st.advance(StageApplyingGuestDefaults); err != nil {
		return err
	}
	if err := o.applyGuestDefaults(ctx, st, req); err != nil {
		return err
	}

	// ConvertingToTemplate: irreversible. A converted template may already
	// be referenced by clones, so a failure past this point is reported
	// without destroying anything.
	if err := st.advance(StageConvertingToTemplate); err != nil {
		return err
	}
	if err := o.guests.ConvertToTemplate(ctx, id); err != nil {
		return err
	}

	return st.advance(StageDone)
}

// configureOptions builds the qm set options for the Configuring stage.
func (o *Orchestrator) configureOptions(st *State, req *config.TemplateRequest) (map[string]string, error) {
	prov := &metadata.Provenance{
		Name:         req.Name,
		Release:      req.Release,
		Arch:         req.Arch,
		SourceImage:  filepath.Base(st.ImagePath),
		SourceSHA256: st.ImageSHA256,
		Builder:      o.builder,
		RunID:        st.RunID,
		BuiltAt:      time.Now().UTC(),
	}
	description, err := prov.Render()
	if err != nil {
		return nil, err
	}

	opts := map[string]string{
		"scsihw":      "virtio-scsi-pci",
		primaryDisk:   proxmox.VolumeID(req.Storage, st.VolumeName),
		"boot":        "order=" + primaryDisk,
		"serial0":     "socket",
		"vga":         "serial0",
		"agent":       "enabled=1",
		"description": description,
	}

	// OVMF keeps firmware variables outside the guest image; it gets the
	// smallest EFI vars volume the backend offers.
	if req.BIOS == "ovmf" {
		opts["bios"] = "ovmf"
		opts["efidisk0"] = req.Storage + ":1,efitype=4m"
	}

	return opts, nil
}

// applyGuestDefaults injects the default account, key material, and
// first-boot network metadata, either through the native cloud-init drive
// or, when custom user-data is supplied, a NoCloud seed ISO.
func (o *Orchestrator) applyGuestDefaults(ctx context.Context, st *State, req *config.TemplateRequest) error {
	// Re-checked even though validation enforces it: this is the stage
	// that consumes the material, and password access must never be the
	// fallback.
	if req.SSHKeyRequired() && len(req.SSHKeys) == 0 {
		return &ValidationError{
			Check: "ssh keys",
			Err:   errors.New("no SSH key material available at the guest-defaults stage"),
		}
	}

	if req.UserDataFile != "" {
		return o.attachSeedISO(ctx, st, req)
	}

	opts := map[string]string{
		"ide2":      proxmox.CloudInitVolumeID(req.Storage),
		"ciuser":    req.CIUser,
		"ipconfig0": "ip=dhcp",
	}
	if len(req.SSHKeys) > 0 {
		// qm reads key material from a file, not from the argument.
		keysPath := filepath.Join(st.ScratchDir, "authorized_keys")
		keys := strings.Join(req.SSHKeys, "\n") + "\n"
		if err := os.WriteFile(keysPath, []byte(keys), 0o600); err != nil {
			return fmt.Errorf("failed to stage SSH keys: %w", err)
		}
		opts["sshkeys"] = keysPath
	}

	return o.guests.Configure(ctx, st.VMID, opts)
}

// attachSeedISO packages custom user-data as a NoCloud seed, places it in
// the host ISO library, and attaches it where the native cloud-init drive
// would otherwise sit.
func (o *Orchestrator) attachSeedISO(ctx context.Context, st *State, req *config.TemplateRequest) error {
	userData, err := os.ReadFile(req.UserDataFile)
	if err != nil {
		return fmt.Errorf("failed to read user-data file: %w", err)
	}

	isoData, err := cloudinit.GenerateISO(cloudinit.SeedSpec{
		InstanceID: st.RunID,
		Hostname:   req.Name,
		User:       req.CIUser,
		SSHKeys:    req.SSHKeys,
		UserData:   userData,
	})
	if err != nil {
		return fmt.Errorf("failed to generate seed ISO: %w", err)
	}

	isoName := proxmox.SeedISOName(st.VMID)
	isoPath := filepath.Join(o.isoDir, isoName)
	if err := os.WriteFile(isoPath, isoData, 0o644); err != nil {
		return fmt.Errorf("failed to write seed ISO to the ISO library: %w", err)
	}
	st.SeedISOPath = isoPath
	o.log.Info("seed ISO staged", zap.Int("vmid", st.VMID), zap.String("iso", isoPath))

	return o.guests.Configure(ctx, st.VMID, map[string]string{
		"ide2": proxmox.ISOVolumeID(req.ISOStorage, isoName) + ",media=cdrom",
	})
}

// rollback best-effort destroys what the failed run created. It is
// idempotent: one status query, one conditional destroy. Its own failures
// are logged and never replace the error that triggered it.
func (o *Orchestrator) rollback(ctx context.Context, st *State) {
	log := o.log.With(zap.String("run_id", st.RunID))

	if st.VMID == 0 {
		log.Info("rollback: no guest identity was allocated, nothing to clean up")
		return
	}

	log.Warn("rolling back partially created guest", zap.Int("vmid", st.VMID))

	status, err := o.guests.Status(ctx, st.VMID)
	switch {
	case err != nil:
		// A guest that cannot even be queried cannot be destroyed either;
		// treat it as already clean rather than retrying forever.
		log.Warn("rollback status query failed, treating guest as absent", zap.Error(err))
	case status.Present():
		if destroyErr := o.guests.Destroy(ctx, st.VMID); destroyErr != nil {
			log.Error("rollback destroy failed, manual cleanup may be required",
				zap.Int("vmid", st.VMID),
				zap.Error(destroyErr),
			)
		} else {
			log.Info("guest destroyed", zap.Int("vmid", st.VMID))
		}
	default:
		log.Info("guest already absent, nothing to destroy", zap.Int("vmid", st.VMID))
	}

	if st.SeedISOPath != "" {
		if err := os.Remove(st.SeedISOPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove seed ISO",
				zap.String("iso", st.SeedISOPath),
				zap.Error(err),
			)
		}
	}
}

// dryRun walks the remaining pipeline without touching the host, logging
// what each stage would do. The host lock is already held by the caller,
// so a dry run cannot race a real run's identity allocation.
func (o *Orchestrator) dryRun(st *State, req *config.TemplateRequest) error {
	for st.Stage != StageDone {
		next := pipeline[stageIndex(st.Stage)+1]
		o.log.Info("dry run: "+planLine(next, req), zap.String("stage", string(next)))
		if err := st.advance(next); err != nil {
			return err
		}
	}
	return nil
}

// planLine describes what a stage would do for the dry-run log.
func planLine(stage Stage, req *config.TemplateRequest) string {
	identity := "the next free identity"
	if req.VMID != 0 {
		identity = fmt.Sprintf("identity %d", req.VMID)
	}

	switch stage {
	case StageDownloading:
		return fmt.Sprintf("would download and verify %s", mirror.ImageName(req.Release, req.Arch))
	case StageCreating:
		return fmt.Sprintf("would create guest %q at %s (%d MiB, %d cores, bridge %s)",
			req.Name, identity, req.MemoryMiB, req.Cores, req.Bridge)
	case StageImporting:
		return fmt.Sprintf("would import the image into pool %s", req.Storage)
	case StageAwaitingImportedDisk:
		return "would wait for the imported disk volume to become addressable"
	case StageConfiguring:
		return fmt.Sprintf("would configure %s controller, boot order, console, agent, and %s firmware",
			primaryDisk, req.BIOS)
	case StageResizing:
		if req.DiskExtraGiB == 0 {
			return "would skip the resize (no extra disk requested)"
		}
		return fmt.Sprintf("would grow %s by %d GiB", primaryDisk, req.DiskExtraGiB)
	case StageAwaitingResizedDisk:
		if req.DiskExtraGiB == 0 {
			return "would skip the post-resize wait"
		}
		return "would wait for the resized disk volume to settle"
	case StageApplyingGuestDefaults:
		if req.UserDataFile != "" {
			return fmt.Sprintf("would attach a NoCloud seed ISO built from %s", req.UserDataFile)
		}
		return fmt.Sprintf("would attach a cloud-init drive for user %q with %d SSH key(s)",
			req.CIUser, len(req.SSHKeys))
	case StageConvertingToTemplate:
		return "would convert the guest to a template (irreversible)"
	case StageDone:
		return "run would be complete"
	default:
		return string(stage)
	}
}

// makeScratch creates the run's private scratch directory. It is removed at
// the end of the run whatever the outcome.
func (o *Orchestrator) makeScratch(st *State, req *config.TemplateRequest) error {
	dir := filepath.Join(scratchBase(req), "kiln-"+st.RunID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	st.ScratchDir = dir
	return nil
}

func (o *Orchestrator) cleanupScratch(st *State) {
	if st.ScratchDir == "" {
		return
	}
	if err := os.RemoveAll(st.ScratchDir); err != nil {
		o.log.Warn("failed to remove scratch directory",
			zap.String("dir", st.ScratchDir),
			zap.Error(err),
		)
	}
	st.ScratchDir = ""
}
