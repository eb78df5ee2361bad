package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bkonick/kiln/internal/config"
	"github.com/bkonick/kiln/internal/proxmox"
)

const gib = 1 << 30

// Pool and scratch headroom the preflight demands. The base reserve covers
// the virtual size of current upstream cloud images plus an EFI vars
// volume; the scratch reserve covers one downloaded image.
const (
	baseImageReserveGiB = 8
	scratchReserveGiB   = 2
)

// scratchBase is the filesystem the run's private scratch directory will
// live on.
func scratchBase(req *config.TemplateRequest) string {
	if req.ScratchDir != "" {
		return req.ScratchDir
	}
	return os.TempDir()
}

// validate runs the precondition checks and returns the first failure as a
// *ValidationError naming the failed check. Checks are ordered cheapest
// first: everything local is verified before the node API or the mirror is
// asked anything, so a bad request performs zero external calls.
func (o *Orchestrator) validate(ctx context.Context, req *config.TemplateRequest) error {
	if err := req.Validate(); err != nil {
		return &ValidationError{Check: "request", Err: err}
	}

	// Key policy is enforced here, before anything is downloaded or
	// created. A template without key material would boot unreachable or,
	// worse, fall back to password auth.
	if req.SSHKeyRequired() && len(req.SSHKeys) == 0 {
		return &ValidationError{
			Check: "ssh keys",
			Err:   errors.New("no SSH key material supplied and the key policy requires it (set require_ssh_key: false to opt out)"),
		}
	}

	if req.UserDataFile != "" {
		if _, err := os.Stat(req.UserDataFile); err != nil {
			return &ValidationError{Check: "user data", Err: err}
		}
	}

	if !o.host.Privileged() {
		return &ValidationError{
			Check: "privilege",
			Err:   errors.New("the management tools require root privileges"),
		}
	}

	for _, tool := range proxmox.RequiredTools {
		if !o.host.ToolPresent(tool) {
			return &ValidationError{
				Check: "tools",
				Err:   fmt.Errorf("required tool %q not found on PATH", tool),
			}
		}
	}

	if !o.host.BridgeExists(req.Bridge) {
		return &ValidationError{
			Check: "bridge",
			Err:   fmt.Errorf("bridge %q is not configured on this host", req.Bridge),
		}
	}

	scratchAvail, err := o.host.AvailableBytes(scratchBase(req))
	if err != nil {
		return &ValidationError{Check: "scratch space", Err: err}
	}
	if scratchAvail < scratchReserveGiB*gib {
		return &ValidationError{
			Check: "scratch space",
			Err: fmt.Errorf("%s has %d bytes free, need %d for the downloaded image",
				scratchBase(req), scratchAvail, uint64(scratchReserveGiB*gib)),
		}
	}

	poolAvail, err := o.guests.StorageAvailableBytes(ctx, req.Storage)
	if err != nil {
		return &ValidationError{Check: "storage capacity", Err: err}
	}
	needed := uint64(baseImageReserveGiB+req.DiskExtraGiB) * gib
	if poolAvail < needed {
		return &ValidationError{
			Check: "storage capacity",
			Err: fmt.Errorf("pool %s has %d bytes free, need %d",
				req.Storage, poolAvail, needed),
		}
	}

	if err := o.fetcher.Reachable(ctx); err != nil {
		return &ValidationError{Check: "mirror", Err: err}
	}

	return nil
}
