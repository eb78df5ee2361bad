package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Host management tools the client drives. All three ship with Proxmox VE.
const (
	QMCommand    = "qm"
	PveshCommand = "pvesh"
	PvesmCommand = "pvesm"
)

// RequiredTools lists the binaries that must be on PATH for the client to
// operate. Exposed for preflight checks.
var RequiredTools = []string{QMCommand, PveshCommand, PvesmCommand}

// GuestStatus is the lifecycle state reported for a guest identity.
type GuestStatus string

const (
	StatusAbsent  GuestStatus = "absent"
	StatusStopped GuestStatus = "stopped"
	StatusRunning GuestStatus = "running"
)

// Present reports whether the identity exists on the host.
func (s GuestStatus) Present() bool {
	return s != "" && s != StatusAbsent
}

// CreateOptions are the initial guest properties passed to qm create.
type CreateOptions struct {
	Name      string
	MemoryMiB int
	Cores     int
	Bridge    string
	OSType    string // defaults to "l26"
}

// Client issues lifecycle operations against the local Proxmox VE node.
// Operations carry no implicit retry and return *CommandError on tool
// failure, except the status and volume-path queries, which fold any
// failure into "absent" (they back preflight and rollback, both of which
// only need that answer).
type Client struct {
	runner CommandRunner
	node   string
}

// NewClient builds a client over the given runner. node is the Proxmox node
// name used in API paths for storage queries.
func NewClient(runner CommandRunner, node string) *Client {
	return &Client{runner: runner, node: node}
}

// NewHostClient builds a client for the node the process runs on.
func NewHostClient() (*Client, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to determine node name: %w", err)
	}
	// Proxmox node names are the short hostname.
	node, _, _ := strings.Cut(hostname, ".")
	return NewClient(NewRunner(), node), nil
}

// Node returns the node name used for storage queries.
func (c *Client) Node() string {
	return c.node
}

func (c *Client) run(ctx context.Context, operation, command string, args ...string) ([]byte, error) {
	out, err := c.runner.Run(ctx, command, args...)
	if err != nil {
		return out, newCommandError(operation, command, args, out, err)
	}
	return out, nil
}

// Create allocates the guest identity with its base hardware profile.
func (c *Client) Create(ctx context.Context, id int, opts CreateOptions) error {
	ostype := opts.OSType
	if ostype == "" {
		ostype = "l26"
	}
	_, err := c.run(ctx, "create guest", QMCommand,
		"create", strconv.Itoa(id),
		"--name", opts.Name,
		"--memory", strconv.Itoa(opts.MemoryMiB),
		"--cores", strconv.Itoa(opts.Cores),
		"--net0", "virtio,bridge="+opts.Bridge,
		"--ostype", ostype,
	)
	return err
}

// Configure applies keyed options via qm set. Keys are emitted in sorted
// order so invocations are deterministic.
func (c *Client) Configure(ctx context.Context, id int, options map[string]string) error {
	if len(options) == 0 {
		return nil
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"set", strconv.Itoa(id)}
	for _, k := range keys {
		args = append(args, "--"+k, options[k])
	}

	_, err := c.run(ctx, "configure guest", QMCommand, args...)
	return err
}

// ImportDisk imports a disk image into the target pool. The imported volume
// is attached as an unused disk; attaching it to a bus slot is a separate
// Configure call once the volume name is known.
func (c *Client) ImportDisk(ctx context.Context, id int, imagePath, pool string) error {
	_, err := c.run(ctx, "import disk", QMCommand,
		"importdisk", strconv.Itoa(id), imagePath, pool,
	)
	return err
}

// Resize grows a disk by deltaGiB. Proxmox only supports growing.
func (c *Client) Resize(ctx context.Context, id int, disk string, deltaGiB int) error {
	_, err := c.run(ctx, "resize disk", QMCommand,
		"resize", strconv.Itoa(id), disk, fmt.Sprintf("+%dG", deltaGiB),
	)
	return err
}

// ConvertToTemplate finalizes the guest as a clone source. Irreversible.
func (c *Client) ConvertToTemplate(ctx context.Context, id int) error {
	_, err := c.run(ctx, "convert to template", QMCommand,
		"template", strconv.Itoa(id),
	)
	return err
}

// Destroy removes the guest and its volumes.
func (c *Client) Destroy(ctx context.Context, id int) error {
	_, err := c.run(ctx, "destroy guest", QMCommand,
		"destroy", strconv.Itoa(id),
	)
	return err
}

// Status reports the guest's lifecycle state. Any failure to query maps to
// StatusAbsent: qm exits non-zero for unknown identities, and rollback must
// treat "cannot be queried" as "nothing to clean up".
func (c *Client) Status(ctx context.Context, id int) (GuestStatus, error) {
	out, err := c.runner.Run(ctx, QMCommand, "status", strconv.Itoa(id))
	if err != nil {
		return StatusAbsent, nil
	}

	// Output shape: "status: running"
	for _, line := range strings.Split(string(out), "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "status:"); ok {
			return GuestStatus(strings.TrimSpace(value)), nil
		}
	}
	return StatusAbsent, fmt.Errorf("unexpected qm status output: %q", strings.TrimSpace(string(out)))
}

// NextFreeID asks the cluster for the next unused guest identity.
func (c *Client) NextFreeID(ctx context.Context) (int, error) {
	out, err := c.run(ctx, "query next free id", PveshCommand,
		"get", "/cluster/nextid",
	)
	if err != nil {
		return 0, err
	}

	id, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse next free id from %q: %w", strings.TrimSpace(string(out)), err)
	}
	return id, nil
}

// storageStatus is the subset of the node storage status API response the
// capacity preflight needs.
type storageStatus struct {
	Avail uint64 `json:"avail"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

// StorageAvailableBytes reports the pool's free capacity.
func (c *Client) StorageAvailableBytes(ctx context.Context, pool string) (uint64, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/status", c.node, pool)
	out, err := c.run(ctx, "query storage capacity", PveshCommand,
		"get", path, "--output-format", "json",
	)
	if err != nil {
		return 0, err
	}

	var status storageStatus
	if err := json.Unmarshal(out, &status); err != nil {
		return 0, fmt.Errorf("failed to parse storage status for %s: %w", pool, err)
	}
	return status.Avail, nil
}

// ResolveVolumePath maps a pool volume to its addressable path. A volume the
// backend does not (yet) know about reports ok=false rather than an error;
// freshly imported volumes can lag, and the waiter probes candidates that
// are expected to miss.
func (c *Client) ResolveVolumePath(ctx context.Context, pool, volume string) (string, bool, error) {
	out, err := c.runner.Run(ctx, PvesmCommand, "path", VolumeID(pool, volume))
	if err != nil {
		return "", false, nil
	}

	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", false, nil
	}
	return path, true, nil
}
