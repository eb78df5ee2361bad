// Package config defines the template request document and its validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// SupportedReleases is the fixed allow-list of Ubuntu releases the pipeline
// knows how to fetch and verify.
var SupportedReleases = []string{"bionic", "focal", "jammy", "noble"}

// SupportedArchitectures the upstream mirror publishes server images for.
var SupportedArchitectures = []string{"amd64", "arm64"}

// Defaults applied by Normalize.
const (
	DefaultStorage    = "local-lvm"
	DefaultBridge     = "vmbr0"
	DefaultMemoryMiB  = 2048
	DefaultCores      = 1
	DefaultRelease    = "noble"
	DefaultArch       = "amd64"
	DefaultBIOS       = "seabios"
	DefaultUser       = "ubuntu"
	DefaultISOStorage = "local"
)

// TemplateRequest describes one template build. It is immutable once
// validated; the orchestrator never writes back into it.
type TemplateRequest struct {
	VMID         int    `yaml:"vmid,omitempty"` // 0 = auto-assign next free id
	Name         string `yaml:"name"`
	Storage      string `yaml:"storage,omitempty"`
	Bridge       string `yaml:"bridge,omitempty"`
	MemoryMiB    int    `yaml:"memory_mib,omitempty"`
	Cores        int    `yaml:"cores,omitempty"`
	DiskExtraGiB int    `yaml:"disk_extra_gib,omitempty"`
	Release      string `yaml:"release,omitempty"`
	Arch         string `yaml:"arch,omitempty"`
	BIOS         string `yaml:"bios,omitempty"` // seabios or ovmf

	// Guest defaults applied on first boot.
	CIUser        string   `yaml:"ci_user,omitempty"`
	SSHKeys       []string `yaml:"ssh_keys,omitempty"`
	SSHKeyFile    string   `yaml:"ssh_key_file,omitempty"`
	RequireSSHKey *bool    `yaml:"require_ssh_key,omitempty"` // pointer to distinguish unset vs false
	UserDataFile  string   `yaml:"user_data_file,omitempty"`

	// Host-side locations.
	MirrorURL  string `yaml:"mirror_url,omitempty"`
	ScratchDir string `yaml:"scratch_dir,omitempty"`
	ISOStorage string `yaml:"iso_storage,omitempty"`

	DryRun bool `yaml:"dry_run,omitempty"`
}

// Normalize sanitizes user input and fills defaults. Called automatically
// by LoadFromFile before validation.
func (r *TemplateRequest) Normalize() {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	r.Release = strings.ToLower(strings.TrimSpace(r.Release))
	r.Arch = strings.ToLower(strings.TrimSpace(r.Arch))
	r.BIOS = strings.ToLower(strings.TrimSpace(r.BIOS))

	// Bridge and storage names are NOT case-normalized - they must match
	// the hypervisor configuration exactly.
	r.Bridge = strings.TrimSpace(r.Bridge)
	r.Storage = strings.TrimSpace(r.Storage)

	if r.Storage == "" {
		r.Storage = DefaultStorage
	}
	if r.Bridge == "" {
		r.Bridge = DefaultBridge
	}
	if r.MemoryMiB == 0 {
		r.MemoryMiB = DefaultMemoryMiB
	}
	if r.Cores == 0 {
		r.Cores = DefaultCores
	}
	if r.Release == "" {
		r.Release = DefaultRelease
	}
	if r.Arch == "" {
		r.Arch = DefaultArch
	}
	if r.BIOS == "" {
		r.BIOS = DefaultBIOS
	}
	if r.CIUser == "" {
		r.CIUser = DefaultUser
	}
	if r.ISOStorage == "" {
		r.ISOStorage = DefaultISOStorage
	}
}

// Validate checks the request structure. It does not touch the hypervisor
// or the filesystem - host-side preconditions (bridge exists, pool
// capacity, tools present) are the provisioning preflight's job.
func (r *TemplateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > 63 {
		return fmt.Errorf("name must be at most 63 characters, got %d", len(r.Name))
	}

	// Template names follow DNS-label rules: start and end alphanumeric,
	// hyphens inside.
	namePattern := `^[a-z0-9][a-z0-9-]*[a-z0-9]$`
	if len(r.Name) == 1 {
		namePattern = `^[a-z0-9]$`
	}
	matched, err := regexp.MatchString(namePattern, r.Name)
	if err != nil {
		return fmt.Errorf("name validation error: %w", err)
	}
	if !matched {
		return fmt.Errorf("name must start and end with alphanumeric characters and contain only alphanumerics or hyphens, got %q", r.Name)
	}

	if r.VMID < 0 {
		return fmt.Errorf("vmid must not be negative, got %d", r.VMID)
	}
	// IDs below 100 are reserved by Proxmox for internal use.
	if r.VMID > 0 && r.VMID < 100 {
		return fmt.Errorf("vmid must be 0 (auto-assign) or >= 100, got %d", r.VMID)
	}

	if r.MemoryMiB <= 0 {
		return fmt.Errorf("memory_mib must be > 0, got %d", r.MemoryMiB)
	}
	if r.Cores <= 0 {
		return fmt.Errorf("cores must be > 0, got %d", r.Cores)
	}
	if r.DiskExtraGiB < 0 {
		return fmt.Errorf("disk_extra_gib must not be negative, got %d", r.DiskExtraGiB)
	}

	if !slices.Contains(SupportedReleases, r.Release) {
		return fmt.Errorf("release %q is not supported (choose one of: %s)", r.Release, strings.Join(SupportedReleases, ", "))
	}
	if !slices.Contains(SupportedArchitectures, r.Arch) {
		return fmt.Errorf("arch %q is not supported (choose one of: %s)", r.Arch, strings.Join(SupportedArchitectures, ", "))
	}

	if r.BIOS != "seabios" && r.BIOS != "ovmf" {
		return fmt.Errorf("bios must be seabios or ovmf, got %q", r.BIOS)
	}

	if r.CIUser != "" {
		userPattern := `^[a-z_][a-z0-9_-]*$`
		matched, err := regexp.MatchString(userPattern, r.CIUser)
		if err != nil {
			return fmt.Errorf("ci_user validation error: %w", err)
		}
		if !matched {
			return fmt.Errorf("ci_user must be a valid unix username, got %q", r.CIUser)
		}
	}

	for i, key := range r.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}

	return nil
}

// SSHKeyRequired reports the key policy. Unset means required: a template
// that boots with neither key nor password is useless, and a template that
// boots with password auth is worse.
func (r *TemplateRequest) SSHKeyRequired() bool {
	return r.RequireSSHKey == nil || *r.RequireSSHKey
}

// LoadKeyFile reads the authorized-keys file named by SSHKeyFile and
// appends its entries to SSHKeys. Blank lines and comments are skipped.
// No-op when SSHKeyFile is empty.
func (r *TemplateRequest) LoadKeyFile() error {
	if r.SSHKeyFile == "" {
		return nil
	}

	data, err := os.ReadFile(r.SSHKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read SSH key file: %w", err)
	}

	found := 0
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
			return fmt.Errorf("%s line %d is not a valid SSH public key: %w", r.SSHKeyFile, i+1, err)
		}
		r.SSHKeys = append(r.SSHKeys, line)
		found++
	}

	if found == 0 {
		return fmt.Errorf("%s contains no SSH public keys", r.SSHKeyFile)
	}
	return nil
}

// ParseFile reads a template request from a YAML document without
// normalizing or validating it, for callers that overlay further input
// (command-line flags) before validation.
func ParseFile(path string) (*TemplateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	var req TemplateRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &req, nil
}

// LoadFromFile loads, normalizes and validates a template request from a
// YAML document.
func LoadFromFile(path string) (*TemplateRequest, error) {
	req, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	req.Normalize()

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	return req, nil
}
