package provision

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bkonick/kiln/internal/proxmox"
)

// testDigest is the digest the mock fetcher reports for its image.
const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

// mockGuestManager is a mock implementation of the guestManager interface
// for testing. Every lifecycle call is appended to ops so tests can assert
// ordering across methods, not just per-method counts.
type mockGuestManager struct {
	mu sync.Mutex

	// Configurable behavior
	createFunc                func(ctx context.Context, id int, opts proxmox.CreateOptions) error
	configureFunc             func(ctx context.Context, id int, options map[string]string) error
	importDiskFunc            func(ctx context.Context, id int, imagePath, pool string) error
	resizeFunc                func(ctx context.Context, id int, disk string, deltaGiB int) error
	convertToTemplateFunc     func(ctx context.Context, id int) error
	destroyFunc               func(ctx context.Context, id int) error
	statusFunc                func(ctx context.Context, id int) (proxmox.GuestStatus, error)
	nextFreeIDFunc            func(ctx context.Context) (int, error)
	storageAvailableBytesFunc func(ctx context.Context, pool string) (uint64, error)

	// Call tracking
	ops            []string // cross-method call order, e.g. "create 9999"
	createCalls    []proxmox.CreateOptions
	configureCalls []map[string]string
	resizeCalls    []string // format: "disk+deltaG"
	destroyCalls   []int
	statusCalls    []int
}

// newMockGuestManager creates a mock where the happy path succeeds: the
// identity is free, every mutation succeeds, and the pool has plenty of
// room.
func newMockGuestManager() *mockGuestManager {
	return &mockGuestManager{
		// Default: create succeeds
		createFunc: func(ctx context.Context, id int, opts proxmox.CreateOptions) error {
			return nil
		},
		// Default: configure succeeds
		configureFunc: func(ctx context.Context, id int, options map[string]string) error {
			return nil
		},
		// Default: import succeeds
		importDiskFunc: func(ctx context.Context, id int, imagePath, pool string) error {
			return nil
		},
		// Default: resize succeeds
		resizeFunc: func(ctx context.Context, id int, disk string, deltaGiB int) error {
			return nil
		},
		// Default: conversion succeeds
		convertToTemplateFunc: func(ctx context.Context, id int) error {
			return nil
		},
		// Default: destroy succeeds
		destroyFunc: func(ctx context.Context, id int) error {
			return nil
		},
		// Default: identity is free
		statusFunc: func(ctx context.Context, id int) (proxmox.GuestStatus, error) {
			return proxmox.StatusAbsent, nil
		},
		// Default: the cluster hands out 9000
		nextFreeIDFunc: func(ctx context.Context) (int, error) {
			return 9000, nil
		},
		// Default: 100 GiB free
		storageAvailableBytesFunc: func(ctx context.Context, pool string) (uint64, error) {
			return 100 << 30, nil
		},
	}
}

func (m *mockGuestManager) Create(ctx context.Context, id int, opts proxmox.CreateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "create "+strconv.Itoa(id))
	m.createCalls = append(m.createCalls, opts)
	return m.createFunc(ctx, id, opts)
}

func (m *mockGuestManager) Configure(ctx context.Context, id int, options map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "configure "+strconv.Itoa(id))
	m.configureCalls = append(m.configureCalls, options)
	return m.configureFunc(ctx, id, options)
}

func (m *mockGuestManager) ImportDisk(ctx context.Context, id int, imagePath, pool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "importdisk "+strconv.Itoa(id))
	return m.importDiskFunc(ctx, id, imagePath, pool)
}

func (m *mockGuestManager) Resize(ctx context.Context, id int, disk string, deltaGiB int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "resize "+strconv.Itoa(id))
	m.resizeCalls = append(m.resizeCalls, disk+"+"+strconv.Itoa(deltaGiB)+"G")
	return m.resizeFunc(ctx, id, disk, deltaGiB)
}

func (m *mockGuestManager) ConvertToTemplate(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "template "+strconv.Itoa(id))
	return m.convertToTemplateFunc(ctx, id)
}

func (m *mockGuestManager) Destroy(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "destroy "+strconv.Itoa(id))
	m.destroyCalls = append(m.destroyCalls, id)
	return m.destroyFunc(ctx, id)
}

func (m *mockGuestManager) Status(ctx context.Context, id int) (proxmox.GuestStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "status "+strconv.Itoa(id))
	m.statusCalls = append(m.statusCalls, id)
	return m.statusFunc(ctx, id)
}

func (m *mockGuestManager) NextFreeID(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "nextid")
	return m.nextFreeIDFunc(ctx)
}

func (m *mockGuestManager) StorageAvailableBytes(ctx context.Context, pool string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "storage-avail "+pool)
	return m.storageAvailableBytesFunc(ctx, pool)
}

// mockImageFetcher is a mock implementation of the imageFetcher interface
// for testing.
type mockImageFetcher struct {
	mu sync.Mutex

	// Configurable behavior
	reachableFunc func(ctx context.Context) error
	fetchFunc     func(ctx context.Context, destDir string) (string, string, error)

	// Call tracking
	reachableCalls int
	fetchCalls     []string // destDir per attempt
}

// newMockImageFetcher creates a mock where the mirror is reachable and the
// first fetch attempt produces a verified image.
func newMockImageFetcher() *mockImageFetcher {
	return &mockImageFetcher{
		// Default: mirror reachable
		reachableFunc: func(ctx context.Context) error {
			return nil
		},
		// Default: fetch succeeds on the first attempt
		fetchFunc: func(ctx context.Context, destDir string) (string, string, error) {
			return filepath.Join(destDir, "noble-server-cloudimg-amd64.img"), testDigest, nil
		},
	}
}

func (m *mockImageFetcher) Reachable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachableCalls++
	return m.reachableFunc(ctx)
}

func (m *mockImageFetcher) Fetch(ctx context.Context, destDir string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = append(m.fetchCalls, destDir)
	return m.fetchFunc(ctx, destDir)
}

// mockHostInspector is a mock implementation of the hostInspector and
// deviceProber interfaces for testing.
type mockHostInspector struct {
	mu sync.Mutex

	// Configurable behavior
	toolPresentFunc        func(name string) bool
	privilegedFunc         func() bool
	bridgeExistsFunc       func(bridge string) bool
	availableBytesFunc     func(path string) (uint64, error)
	hasVolumeSubsystemFunc func() bool
	devicePresentFunc      func(path string) bool

	// Call tracking
	devicePresentCalls []string
}

// newMockHostInspector creates a mock of a well-prepared host: root, tools
// on PATH, bridge configured, disk space everywhere, file-backed storage
// (no LVM, so the waiter has no device node to poll).
func newMockHostInspector() *mockHostInspector {
	return &mockHostInspector{
		toolPresentFunc:  func(name string) bool { return true },
		privilegedFunc:   func() bool { return true },
		bridgeExistsFunc: func(bridge string) bool { return true },
		availableBytesFunc: func(path string) (uint64, error) {
			return 100 << 30, nil
		},
		hasVolumeSubsystemFunc: func() bool { return false },
		devicePresentFunc:      func(path string) bool { return true },
	}
}

func (m *mockHostInspector) ToolPresent(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolPresentFunc(name)
}

func (m *mockHostInspector) Privileged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.privilegedFunc()
}

func (m *mockHostInspector) BridgeExists(bridge string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bridgeExistsFunc(bridge)
}

func (m *mockHostInspector) AvailableBytes(path string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableBytesFunc(path)
}

func (m *mockHostInspector) HasVolumeSubsystem() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasVolumeSubsystemFunc()
}

func (m *mockHostInspector) DevicePresent(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicePresentCalls = append(m.devicePresentCalls, path)
	return m.devicePresentFunc(path)
}

// mockVolumeResolver is a mock implementation of the volumeResolver
// interface for testing.
type mockVolumeResolver struct {
	mu sync.Mutex

	// Configurable behavior
	resolveVolumePathFunc func(ctx context.Context, pool, volume string) (string, bool, error)

	// Call tracking
	resolveCalls []string // format: "pool/volume"
}

// newMockVolumeResolver creates a mock where the base- naming convention
// resolves immediately to a file-backed path.
func newMockVolumeResolver() *mockVolumeResolver {
	return &mockVolumeResolver{
		resolveVolumePathFunc: func(ctx context.Context, pool, volume string) (string, bool, error) {
			if strings.HasPrefix(volume, "base-") {
				return "/var/lib/vz/images/" + volume, true, nil
			}
			return "", false, nil
		},
	}
}

func (m *mockVolumeResolver) ResolveVolumePath(ctx context.Context, pool, volume string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls = append(m.resolveCalls, pool+"/"+volume)
	return m.resolveVolumePathFunc(ctx, pool, volume)
}
