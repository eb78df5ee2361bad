package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bkonick/kiln/internal/proxmox"
)

// Defaults for the eventual-consistency wait.
const (
	DefaultWaitAttempts = 30
	DefaultWaitInterval = time.Second
	DefaultSettlePause  = 2 * time.Second
)

// deviceProber is the subset of host probing the waiter needs.
type deviceProber interface {
	HasVolumeSubsystem() bool
	DevicePresent(path string) bool
}

// DiskWaiter waits for a freshly imported or resized disk volume to become
// addressable. The storage backend is polled rather than trusted to be
// synchronous: importdisk and resize both return before the volume's device
// node is guaranteed to exist.
//
// Volume naming is backend-dependent, so the waiter probes the "base-" form
// first and falls back to the "vm-" form; whichever resolves is
// authoritative for the remainder of the run. Block-backed volumes are then
// visibility-polled when an LVM subsystem is present; file and
// distributed backends have no device node to poll and only get the
// settling pause.
type DiskWaiter struct {
	Resolver volumeResolver
	Probe    deviceProber

	Attempts int
	Interval time.Duration
	Settle   time.Duration

	Log *zap.Logger
}

// NewDiskWaiter builds a waiter with the default attempt count and pauses.
func NewDiskWaiter(resolver volumeResolver, probe deviceProber, logger *zap.Logger) *DiskWaiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskWaiter{
		Resolver: resolver,
		Probe:    probe,
		Attempts: DefaultWaitAttempts,
		Interval: DefaultWaitInterval,
		Settle:   DefaultSettlePause,
		Log:      logger,
	}
}

// Await blocks until the guest's primary disk volume in pool is addressable,
// returning its resolved name and path. When preferred is non-empty (the
// name was already resolved earlier in the run) only that name is probed;
// otherwise both naming conventions are tried in order.
//
// Returns a *VolumeTimeoutError when the volume never resolves or its
// device never becomes visible within the attempt budget.
func (w *DiskWaiter) Await(ctx context.Context, id int, pool, preferred string) (string, string, error) {
	candidates := proxmox.VolumeCandidates(id)
	if preferred != "" {
		candidates = []string{preferred}
	}

	name, path, err := w.resolve(ctx, id, pool, candidates)
	if err != nil {
		return "", "", err
	}

	w.Log.Info("disk volume resolved",
		zap.Int("vmid", id),
		zap.String("volume", name),
		zap.String("path", path),
	)

	if strings.HasPrefix(path, "/dev/") && w.Probe.HasVolumeSubsystem() {
		if err := w.awaitVisible(ctx, id, pool, path); err != nil {
			return "", "", err
		}
	}

	// One settling pause either way: block devices need a beat after
	// becoming visible, and backends without a device node to poll get
	// the pause unconditionally.
	if err := w.pause(ctx, w.Settle); err != nil {
		return "", "", err
	}

	return name, path, nil
}

// resolve probes the candidate names in order until one maps to a path.
func (w *DiskWaiter) resolve(ctx context.Context, id int, pool string, candidates []string) (string, string, error) {
	for attempt := 1; attempt <= w.Attempts; attempt++ {
		for _, name := range candidates {
			path, ok, err := w.Resolver.ResolveVolumePath(ctx, pool, name)
			if err != nil {
				return "", "", fmt.Errorf("failed to resolve volume %s: %w", proxmox.VolumeID(pool, name), err)
			}
			if ok {
				return name, path, nil
			}
		}

		w.Log.Debug("no volume candidate resolved yet",
			zap.Int("vmid", id),
			zap.Int("attempt", attempt),
		)
		if attempt == w.Attempts {
			break
		}
		if err := w.pause(ctx, w.Interval); err != nil {
			return "", "", err
		}
	}

	return "", "", &VolumeTimeoutError{VMID: id, Pool: pool, Attempts: w.Attempts}
}

// awaitVisible polls the device node until it is addressable.
func (w *DiskWaiter) awaitVisible(ctx context.Context, id int, pool, path string) error {
	for attempt := 1; attempt <= w.Attempts; attempt++ {
		if w.Probe.DevicePresent(path) {
			return nil
		}

		w.Log.Debug("device not visible yet",
			zap.Int("vmid", id),
			zap.String("path", path),
			zap.Int("attempt", attempt),
		)
		if attempt == w.Attempts {
			break
		}
		if err := w.pause(ctx, w.Interval); err != nil {
			return err
		}
	}

	return &VolumeTimeoutError{VMID: id, Pool: pool, Attempts: w.Attempts, Path: path}
}

func (w *DiskWaiter) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("disk wait aborted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
