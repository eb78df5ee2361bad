package provision

import (
	"context"

	"github.com/bkonick/kiln/internal/proxmox"
)

// guestManager defines the hypervisor lifecycle operations the pipeline
// drives. This wraps operations from *proxmox.Client to allow for testing.
//
// In production, this is satisfied by *proxmox.Client directly.
// In tests, this is satisfied by mock implementations.
type guestManager interface {
	// Create allocates the guest identity with its base hardware profile
	Create(ctx context.Context, id int, opts proxmox.CreateOptions) error

	// Configure applies keyed options to an existing guest
	Configure(ctx context.Context, id int, options map[string]string) error

	// ImportDisk imports a disk image into the target pool
	ImportDisk(ctx context.Context, id int, imagePath, pool string) error

	// Resize grows a disk by deltaGiB
	Resize(ctx context.Context, id int, disk string, deltaGiB int) error

	// ConvertToTemplate finalizes the guest as a clone source
	ConvertToTemplate(ctx context.Context, id int) error

	// Destroy removes the guest and its volumes
	Destroy(ctx context.Context, id int) error

	// Status reports the guest's lifecycle state, absent when unknown
	Status(ctx context.Context, id int) (proxmox.GuestStatus, error)

	// NextFreeID asks the cluster for the next unused guest identity
	NextFreeID(ctx context.Context) (int, error)

	// StorageAvailableBytes reports a pool's free capacity
	StorageAvailableBytes(ctx context.Context, pool string) (uint64, error)
}

// volumeResolver maps a pool volume name to its addressable path.
// *proxmox.Client satisfies it; the disk waiter probes candidates through
// it, expecting some probes to miss.
type volumeResolver interface {
	ResolveVolumePath(ctx context.Context, pool, volume string) (string, bool, error)
}

// imageFetcher performs one attempt of the download-and-verify unit. The
// retry budget belongs to the orchestrator, not the fetcher.
//
// In production, this is satisfied by *mirror.Downloader.
type imageFetcher interface {
	// Reachable probes the mirror as a validation precondition
	Reachable(ctx context.Context) error

	// Fetch downloads and verifies one image, returning its path and digest
	Fetch(ctx context.Context, destDir string) (string, string, error)
}

// hostInspector answers host-side precondition and device-visibility
// questions. In production, this is satisfied by *Host.
type hostInspector interface {
	// ToolPresent reports whether a required binary is on PATH
	ToolPresent(name string) bool

	// Privileged reports whether the process runs with root privileges
	Privileged() bool

	// BridgeExists reports whether a network bridge is configured
	BridgeExists(bridge string) bool

	// AvailableBytes reports the free space of the filesystem holding path
	AvailableBytes(path string) (uint64, error)

	// HasVolumeSubsystem reports whether a volume-management subsystem
	// (LVM) is present on the host
	HasVolumeSubsystem() bool

	// DevicePresent reports whether a device node or file is addressable
	DevicePresent(path string) bool
}
