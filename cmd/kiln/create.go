package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bkonick/kiln/internal/config"
	"github.com/bkonick/kiln/internal/guard"
	"github.com/bkonick/kiln/internal/mirror"
	"github.com/bkonick/kiln/internal/output"
	"github.com/bkonick/kiln/internal/provision"
	"github.com/bkonick/kiln/internal/proxmox"
)

var (
	createConfigFile string
	createLockFile   string
	createRequireKey bool
	createReq        config.TemplateRequest
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Build a template from an upstream cloud image",
	Long: `Build a Proxmox VE template from an upstream Ubuntu cloud image.

The build validates host preconditions, downloads and verifies the image,
creates a guest, imports the image as its boot disk, applies cloud-init
guest defaults, and converts the guest into a template. If anything fails
after guest creation, the partially built guest is destroyed before the
command exits.

Every request field can be set by flag. With --config, the YAML request
document is loaded first and flags override individual fields:

  kiln create --name noble-docker --disk-extra 10 --ssh-key-file ~/.ssh/id_ed25519.pub
  kiln create --config request.yaml --vmid 9001
  kiln create --config request.yaml --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		req, err := buildRequest(cmd)
		if err != nil {
			return err
		}

		logger, closeLog, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLog()

		// One build per host. Everything before this point is local and
		// side-effect free; everything after runs under the lock.
		lock := guard.New(createLockFile)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if relErr := lock.Release(); relErr != nil {
				logger.Warn("failed to release run lock", zap.Error(relErr))
			}
		}()

		client, err := proxmox.NewHostClient()
		if err != nil {
			return err
		}
		downloader := mirror.NewDownloader(req.MirrorURL, req.Release, req.Arch, logger)
		orch := provision.New(client, downloader, provision.NewHost(), logger, provision.Options{
			Builder: "kiln " + version,
		})

		report, runErr := orch.Run(cmd.Context(), req)

		// The report is rendered on failure too: it names the stage the
		// run died in and whether an identity was ever allocated.
		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}
		rendered, err := formatter.FormatReport(report)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(rendered)

		if runErr != nil {
			return runErr
		}
		if output.Format(outputFormat) == output.FormatTable && !req.DryRun {
			fmt.Printf("\n✓ Template %s (vmid %d) is ready\n", report.Name, report.VMID)
		}
		return nil
	},
}

func init() {
	f := createCmd.Flags()

	f.StringVar(&createConfigFile, "config", "", "YAML request document; flags override its fields")
	f.StringVar(&createLockFile, "lock-file", guard.DefaultLockPath, "Lock file guarding concurrent runs")

	f.IntVar(&createReq.VMID, "vmid", 0, "Guest identity (0 assigns the next free id)")
	f.StringVar(&createReq.Name, "name", "", "Template name (DNS label)")
	f.StringVar(&createReq.Storage, "storage", config.DefaultStorage, "Storage pool for the imported disk")
	f.StringVar(&createReq.Bridge, "bridge", config.DefaultBridge, "Network bridge for net0")
	f.IntVar(&createReq.MemoryMiB, "memory", config.DefaultMemoryMiB, "Guest memory in MiB")
	f.IntVar(&createReq.Cores, "cores", config.DefaultCores, "Guest CPU cores")
	f.IntVar(&createReq.DiskExtraGiB, "disk-extra", 0, "GiB to grow the imported disk by")
	f.StringVar(&createReq.Release, "release", config.DefaultRelease, "Ubuntu release codename")
	f.StringVar(&createReq.Arch, "arch", config.DefaultArch, "Image architecture")
	f.StringVar(&createReq.BIOS, "bios", config.DefaultBIOS, "Guest firmware: seabios or ovmf")
	f.StringVar(&createReq.CIUser, "ci-user", config.DefaultUser, "Default cloud-init user")
	f.StringArrayVar(&createReq.SSHKeys, "ssh-key", nil, "Authorized SSH public key (repeatable; adds to keys from --config)")
	f.StringVar(&createReq.SSHKeyFile, "ssh-key-file", "", "File of authorized SSH public keys")
	f.BoolVar(&createRequireKey, "require-ssh-key", true, "Refuse to build a template no SSH key can reach")
	f.StringVar(&createReq.UserDataFile, "user-data", "", "Custom cloud-init user-data, attached via a NoCloud seed ISO")
	f.StringVar(&createReq.MirrorURL, "mirror-url", mirror.DefaultBaseURL, "Cloud image mirror base URL")
	f.StringVar(&createReq.ScratchDir, "scratch-dir", "", "Parent directory for per-run scratch space (default: system temp)")
	f.StringVar(&createReq.ISOStorage, "iso-storage", config.DefaultISOStorage, "ISO-capable storage for seed images")
	f.BoolVar(&createReq.DryRun, "dry-run", false, "Log the build plan without touching the hypervisor")

	f.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, or json")
	f.BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
}

// buildRequest assembles the template request from the optional config
// document plus any flags set on the command line, then validates it.
func buildRequest(cmd *cobra.Command) (*config.TemplateRequest, error) {
	req := &createReq
	if createConfigFile != "" {
		loaded, err := config.ParseFile(createConfigFile)
		if err != nil {
			return nil, err
		}
		overlayFlags(cmd, loaded)
		req = loaded
	}
	if cmd.Flags().Changed("require-ssh-key") {
		req.RequireSSHKey = &createRequireKey
	}

	if err := req.LoadKeyFile(); err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// overlayFlags copies every flag the user explicitly set over the loaded
// request document. Flag defaults never clobber document values.
func overlayFlags(cmd *cobra.Command, req *config.TemplateRequest) {
	flags := cmd.Flags()
	if flags.Changed("vmid") {
		req.VMID = createReq.VMID
	}
	if flags.Changed("name") {
		req.Name = createReq.Name
	}
	if flags.Changed("storage") {
		req.Storage = createReq.Storage
	}
	if flags.Changed("bridge") {
		req.Bridge = createReq.Bridge
	}
	if flags.Changed("memory") {
		req.MemoryMiB = createReq.MemoryMiB
	}
	if flags.Changed("cores") {
		req.Cores = createReq.Cores
	}
	if flags.Changed("disk-extra") {
		req.DiskExtraGiB = createReq.DiskExtraGiB
	}
	if flags.Changed("release") {
		req.Release = createReq.Release
	}
	if flags.Changed("arch") {
		req.Arch = createReq.Arch
	}
	if flags.Changed("bios") {
		req.BIOS = createReq.BIOS
	}
	if flags.Changed("ci-user") {
		req.CIUser = createReq.CIUser
	}
	if flags.Changed("ssh-key") {
		req.SSHKeys = append(req.SSHKeys, createReq.SSHKeys...)
	}
	if flags.Changed("ssh-key-file") {
		req.SSHKeyFile = createReq.SSHKeyFile
	}
	if flags.Changed("user-data") {
		req.UserDataFile = createReq.UserDataFile
	}
	if flags.Changed("mirror-url") {
		req.MirrorURL = createReq.MirrorURL
	}
	if flags.Changed("scratch-dir") {
		req.ScratchDir = createReq.ScratchDir
	}
	if flags.Changed("iso-storage") {
		req.ISOStorage = createReq.ISOStorage
	}
	if flags.Changed("dry-run") {
		req.DryRun = createReq.DryRun
	}
}
