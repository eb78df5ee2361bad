package provision

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// DefaultISODir is the Proxmox "local" storage ISO library, where NoCloud
// seed images are placed so qm can attach them.
const DefaultISODir = "/var/lib/vz/template/iso"

// lvsCommand is the probe for an LVM subsystem. Block-backed pools on a
// host without it cannot be visibility-polled.
const lvsCommand = "lvs"

// Host answers precondition and visibility questions against the local
// machine. The sysfs root is a field so tests can point it at a fixture
// tree.
type Host struct {
	// SysClassNet is where network interfaces are enumerated.
	SysClassNet string
}

// NewHost returns a Host probing the real system paths.
func NewHost() *Host {
	return &Host{SysClassNet: "/sys/class/net"}
}

// ToolPresent reports whether name is on PATH.
func (h *Host) ToolPresent(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Privileged reports whether the process runs as root. The management tools
// refuse most mutating operations otherwise.
func (h *Host) Privileged() bool {
	return os.Geteuid() == 0
}

// BridgeExists reports whether the named bridge is a configured network
// interface.
func (h *Host) BridgeExists(bridge string) bool {
	if bridge == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(h.SysClassNet, bridge))
	return err == nil
}

// AvailableBytes reports the free space of the filesystem holding path.
func (h *Host) AvailableBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats for %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// HasVolumeSubsystem reports whether LVM tooling is present.
func (h *Host) HasVolumeSubsystem() bool {
	return h.ToolPresent(lvsCommand)
}

// DevicePresent reports whether a device node (or file) is addressable yet.
// Freshly activated logical volumes appear here with a lag.
func (h *Host) DevicePresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
