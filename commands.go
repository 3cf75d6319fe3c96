package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/checksum"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/config"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/installer"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/ops"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/partition"
)

type app struct {
	cfg    config.Config
	log    zerolog.Logger
	flows  *ops.Flows
	runner *ops.Runner
}

func newApp() *app {
	cfg := config.FromViper(viper.GetViper())
	log := cfg.Logger(os.Stderr)
	return &app{
		cfg:    cfg,
		log:    log,
		flows:  ops.NewFlows(cfg, log),
		runner: ops.NewRunner(),
	}
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command must be run as root")
	}
	return nil
}

func requireTerminal() error {
	if assumeYes {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive prompts need a terminal; pass --yes to run unattended")
	}
	return nil
}

// runOperation hands fn to the single-operation runner and renders its
// progress events until Done arrives.
func (a *app) runOperation(ctx context.Context, desc string, fn func(ctx context.Context, onProgress func(int)) error) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	if err := a.runner.Start(ctx, fn); err != nil {
		return err
	}
	for ev := range a.runner.Events() {
		switch ev.Kind {
		case ops.EventProgress:
			_ = bar.Set(ev.Pct)
		case ops.EventDone:
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
			return ev.Err
		}
	}
	return nil
}

func (a *app) listDevices(ctx context.Context) ([]blockdev.BlockDevice, error) {
	devices, err := a.flows.Devices.List(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("device enumeration failed, no devices available")
		return nil, nil
	}
	blockdev.AnnotateUSB(devices)
	return devices, nil
}

func (a *app) selectDevice(ctx context.Context) (blockdev.BlockDevice, error) {
	devices, err := a.listDevices(ctx)
	if err != nil {
		return blockdev.BlockDevice{}, err
	}
	if len(devices) == 0 {
		return blockdev.BlockDevice{}, fmt.Errorf("no block devices found")
	}
	options := make([]string, len(devices))
	for i, d := range devices {
		options[i] = d.Display()
		if d.USB {
			options[i] += "  [USB]"
		}
	}
	var selected string
	prompt := &survey.Select{
		Message: "Select target device:",
		Options: options,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return blockdev.BlockDevice{}, err
	}
	for i, opt := range options {
		if opt == selected {
			return devices[i], nil
		}
	}
	return blockdev.BlockDevice{}, fmt.Errorf("no device selected")
}

// resolveTable picks the partition table style when no flag was given.
// Reusing an existing partition needs no table; unattended runs default
// to msdos instead of prompting.
func resolveTable(flag string, reuse, unattended bool) (table string, prompt bool) {
	if flag != "" || reuse {
		return flag, false
	}
	if unattended {
		return "msdos", false
	}
	return "", true
}

// confirmDestruction is the last gate before anything irreversible.
func confirmDestruction(action, devPath string) bool {
	if assumeYes {
		return true
	}
	color.Red("\n⚠ WARNING: this will %s and DESTROY ALL DATA on %s", action, devPath)
	confirm := false
	prompt := &survey.Confirm{
		Message: "Do you want to continue?",
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirm); err != nil {
		return false
	}
	return confirm
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List block devices and their partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			devices, err := a.listDevices(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Println("No block devices found.")
				return nil
			}
			for _, d := range devices {
				line := d.Display()
				if d.USB {
					line += "  [USB]"
				}
				fmt.Println(line)
				for _, p := range d.Partitions {
					mp := ""
					if p.Mountpoint != nil {
						mp = " mounted at " + *p.Mountpoint
					}
					fmt.Printf("  └─ /dev/%s (%s)%s\n", p.Name, p.Type, mp)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newFormatCmd() *cobra.Command {
	var (
		fsKey   string
		table   string
		label   string
		device  string
		reusePt bool
	)
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format a USB device with a fresh filesystem",
		Long: `Format walks through device, filesystem, partition table and label
selection, then creates a single partition spanning the device (unless an
existing first partition is reused) and runs the matching mkfs tool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			if err := requireTerminal(); err != nil {
				return err
			}
			a := newApp()
			ctx := cmd.Context()

			if device == "" {
				dev, err := a.selectDevice(ctx)
				if err != nil {
					return err
				}
				device = dev.Name

				if len(dev.Partitions) > 0 && !assumeYes {
					first := dev.Partitions[0].Name
					choice := ""
					prompt := &survey.Select{
						Message: "Device already has partitions:",
						Options: []string{
							fmt.Sprintf("Format the first partition (/dev/%s)", first),
							"Re-create the partition table and make a single partition",
							"Abort",
						},
					}
					if err := survey.AskOne(prompt, &choice); err != nil {
						return err
					}
					switch {
					case choice == "Abort":
						return fmt.Errorf("aborted")
					case choice == fmt.Sprintf("Format the first partition (/dev/%s)", first):
						reusePt = true
					}
				}
			}

			found := a.flows.Formatter.Detect()
			if len(found) == 0 {
				return fmt.Errorf("no mkfs tools found; install e.g. dosfstools or e2fsprogs")
			}
			if fsKey == "" {
				keys := partition.FilesystemKeys(found)
				prompt := &survey.Select{Message: "Filesystem:", Options: keys}
				if err := survey.AskOne(prompt, &fsKey); err != nil {
					return err
				}
			}
			if _, ok := found[fsKey]; !ok {
				return fmt.Errorf("no mkfs tool available for %q", fsKey)
			}
			var promptTable bool
			table, promptTable = resolveTable(table, reusePt, assumeYes)
			if promptTable {
				prompt := &survey.Select{Message: "Partition table:", Options: []string{"msdos", "gpt"}, Default: "msdos"}
				if err := survey.AskOne(prompt, &table); err != nil {
					return err
				}
			}
			if label == "" && !assumeYes {
				prompt := &survey.Input{Message: "Volume label (optional):"}
				if err := survey.AskOne(prompt, &label); err != nil {
					return err
				}
			}

			if !confirmDestruction("irreversibly format", blockdev.DevPath(device)) {
				return fmt.Errorf("cancelled")
			}

			job := ops.ImagingJob{
				TargetDevice:   device,
				Filesystem:     fsKey,
				TableStyle:     table,
				Label:          label,
				ReusePartition: reusePt,
			}
			return a.runOperation(ctx, "Formatting "+blockdev.DevPath(device), func(ctx context.Context, onProgress func(int)) error {
				return a.flows.FormatDevice(ctx, job, onProgress)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device kernel name (e.g. sdb); prompts when omitted")
	cmd.Flags().StringVar(&fsKey, "filesystem", "", "filesystem key (ext4, vfat, exfat, ntfs, xfs, btrfs)")
	cmd.Flags().StringVar(&table, "table", "", "partition table style (msdos or gpt)")
	cmd.Flags().StringVar(&label, "label", "", "volume label")
	cmd.Flags().BoolVar(&reusePt, "reuse-partition", false, "format the existing first partition instead of repartitioning")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var (
		device     string
		skipVerify bool
	)
	cmd := &cobra.Command{
		Use:   "write <image>",
		Short: "Write a bootable image to the raw device",
		Long: `Write streams a disk image byte-for-byte onto the selected device,
making it bootable when the image is hybrid. The image's SHA-256 is computed
first and checked against an online or sibling-file reference; a mismatch is
a warning, never a block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			if err := requireTerminal(); err != nil {
				return err
			}
			a := newApp()
			ctx := cmd.Context()
			imagePath := args[0]

			info, err := os.Stat(imagePath)
			if err != nil {
				return fmt.Errorf("image file: %w", err)
			}
			fmt.Printf("Image: %s (%s)\n", imagePath, humanize.IBytes(uint64(info.Size())))

			if !skipVerify {
				var outcome checksum.Outcome
				err := a.runOperation(cmd.Context(), "Computing SHA-256", func(ctx context.Context, onProgress func(int)) error {
					_, o, _, err := a.flows.VerifyImage(ctx, imagePath, onProgress)
					outcome = o
					return err
				})
				if err != nil {
					return err
				}
				if outcome == checksum.Mismatched {
					color.Red("Checksum mismatch reported above. The write will proceed if you confirm.")
				}
			}

			if device == "" {
				dev, err := a.selectDevice(ctx)
				if err != nil {
					return err
				}
				device = dev.Name
			}
			if !confirmDestruction("overwrite the entire device", blockdev.DevPath(device)) {
				return fmt.Errorf("cancelled")
			}

			job := ops.ImagingJob{SourceImagePath: imagePath, TargetDevice: device}
			return a.runOperation(ctx, "Writing "+blockdev.DevPath(device), func(ctx context.Context, onProgress func(int)) error {
				return a.flows.WriteImage(ctx, job, onProgress)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device kernel name (e.g. sdb); prompts when omitted")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip the checksum computation and lookup")
	return cmd
}

func newInstallCmd() *cobra.Command {
	var (
		device string
		label  string
	)
	cmd := &cobra.Command{
		Use:   "install <image>",
		Short: "Copy an image's files onto a freshly formatted FAT32/exFAT partition",
		Long: `Install is the Windows-style imaging variant: instead of a raw copy it
partitions the device (MBR), formats the partition FAT32 or exFAT depending
on image size, mounts both the partition and the image, and copies the
image's contents across. Failures halt the sequence without rolling back
earlier steps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			if err := requireTerminal(); err != nil {
				return err
			}
			a := newApp()
			ctx := cmd.Context()
			imagePath := args[0]

			info, err := os.Stat(imagePath)
			if err != nil {
				return fmt.Errorf("image file: %w", err)
			}
			fsKey := installer.ChooseFilesystem(info.Size())
			fmt.Printf("Image: %s (%s) → filesystem %s\n", imagePath, humanize.IBytes(uint64(info.Size())), fsKey)

			if device == "" {
				dev, err := a.selectDevice(ctx)
				if err != nil {
					return err
				}
				device = dev.Name
			}
			if !confirmDestruction("repartition, format and overwrite", blockdev.DevPath(device)) {
				return fmt.Errorf("cancelled")
			}

			job := ops.ImagingJob{SourceImagePath: imagePath, TargetDevice: device, Label: label}
			return a.runOperation(ctx, "Installing to "+blockdev.DevPath(device), func(ctx context.Context, onProgress func(int)) error {
				return a.flows.InstallImage(ctx, job, onProgress)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device kernel name (e.g. sdb); prompts when omitted")
	cmd.Flags().StringVar(&label, "label", "", "volume label for the new filesystem")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var expected string
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Compute an image's SHA-256 and check it against a reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			imagePath := args[0]

			var (
				digest  string
				outcome checksum.Outcome
				ref     checksum.Reference
			)
			err := a.runOperation(cmd.Context(), "Computing SHA-256", func(ctx context.Context, onProgress func(int)) error {
				d, o, r, err := a.flows.VerifyImage(ctx, imagePath, onProgress)
				digest, outcome, ref = d, o, r
				return err
			})
			if err != nil {
				return err
			}

			fmt.Printf("SHA-256: %s\n", digest)
			if expected != "" {
				if checksum.MatchesExpected(digest, expected) {
					color.Green("Matches the provided digest.")
				} else {
					color.Red("Does NOT match the provided digest.")
				}
				return nil
			}
			switch outcome {
			case checksum.Matched:
				color.Green("Matches the %s reference.", ref.Source)
			case checksum.Mismatched:
				color.Red("Does NOT match the %s reference (%s).", ref.Source, ref.Digest)
			default:
				fmt.Println("No reference found; digest is unverifiable.")
			}
			return nil
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&expected, "expected", "", "compare against this digest instead of searching for one")
	return cmd
}
