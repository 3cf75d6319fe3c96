// Package installer implements the file-copy imaging variant used when an
// image should land on a mountable FAT32/exFAT filesystem instead of being
// raw-copied: partition, format, mount both sides, copy the tree, unmount.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/partition"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/shell"
)

// FAT32 cannot hold a file over 4 GiB, so larger images get exFAT.
const fat32Threshold = 4 << 30

const mountTimeout = 30 * time.Second

// ChooseFilesystem picks the target filesystem by image size: exFAT above
// the 4 GiB threshold, FAT32 at or below it.
func ChooseFilesystem(imageSize int64) string {
	if imageSize > fat32Threshold {
		return "exfat"
	}
	return "vfat"
}

type Installer struct {
	// CopyTimeout is the generous ceiling on the recursive copy step.
	CopyTimeout time.Duration
	Log         zerolog.Logger
}

// Run performs the whole installer sequence on devPath. Progress is
// reported at fixed step checkpoints, not proportional to bytes copied.
// A failed step is logged and halts the sequence; earlier steps are not
// rolled back, so the device is left partially modified on failure.
func (ins *Installer) Run(ctx context.Context, imagePath, devPath, label string, report progress.Func) error {
	log := ins.Log

	info, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("image file: %w", err)
	}
	fsKey := ChooseFilesystem(info.Size())
	log.Info().
		Str("image", imagePath).
		Str("size", humanize.IBytes(uint64(info.Size()))).
		Str("filesystem", fsKey).
		Msg("selected filesystem for install")
	report.Set(5)

	tools := partition.DetectFilesystems()
	tool, ok := tools[fsKey]
	if !ok {
		return &shell.MissingError{Tool: "mkfs." + fsKey}
	}

	partName, err := partition.CreateSingle(ctx, devPath, "msdos", nil, log)
	if err != nil {
		return fmt.Errorf("partitioning: %w", err)
	}
	report.Set(10)

	if err := partition.RunFormat(ctx, partName, tool, fsKey, label, nil, log); err != nil {
		return err
	}
	report.Set(30)

	target, err := mountDir("usb_" + partName)
	if err != nil {
		return err
	}
	if err := mount(ctx, blockdev.DevPath(partName), target); err != nil {
		return err
	}
	log.Info().Str("device", blockdev.DevPath(partName)).Str("mountpoint", target).Msg("mounted target partition")
	if usage, err := disk.Usage(target); err == nil {
		log.Info().
			Str("total", humanize.IBytes(usage.Total)).
			Str("free", humanize.IBytes(usage.Free)).
			Msg("target filesystem capacity")
	}
	report.Set(45)

	source, err := mountDir("usb_image_src")
	if err != nil {
		return err
	}
	if err := mountLoop(ctx, imagePath, source); err != nil {
		return err
	}
	log.Info().Str("image", imagePath).Str("mountpoint", source).Msg("loop-mounted source image")
	report.Set(55)

	log.Info().Msg("copying image contents, this can take a while")
	if err := ins.copyTree(ctx, source, target); err != nil {
		return err
	}
	report.Set(85)

	if err := blockdev.Unmount(ctx, source); err != nil {
		return fmt.Errorf("unmount image: %w", err)
	}
	_ = os.Remove(source)
	report.Set(90)

	unix.Sync()
	report.Set(95)

	if err := blockdev.Unmount(ctx, target); err != nil {
		return fmt.Errorf("unmount target: %w", err)
	}
	_ = os.Remove(target)
	log.Info().Str("device", devPath).Msg("install completed")
	report.Set(100)
	return nil
}

func (ins *Installer) copyTree(ctx context.Context, src, dst string) error {
	timeout := ins.CopyTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	res, err := shell.Run(ctx, timeout, "cp", "-a", src+"/.", dst+"/")
	if err != nil {
		if errors.Is(err, shell.ErrTimeout) {
			return fmt.Errorf("copy: %w", err)
		}
		return &shell.ToolError{Tool: "cp", Code: res.Code, Stderr: string(res.Stderr)}
	}
	return nil
}

func mountDir(name string) (string, error) {
	dir := "/tmp/" + name
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create mountpoint: %w", err)
	}
	return dir, nil
}

func mount(ctx context.Context, device, target string) error {
	res, err := shell.Run(ctx, mountTimeout, "mount", device, target)
	if err != nil {
		return &shell.ToolError{Tool: "mount", Code: res.Code, Stderr: string(res.Stderr)}
	}
	return nil
}

func mountLoop(ctx context.Context, image, target string) error {
	res, err := shell.Run(ctx, mountTimeout, "mount", "-o", "loop,ro", image, target)
	if err != nil {
		return &shell.ToolError{Tool: "mount", Code: res.Code, Stderr: string(res.Stderr)}
	}
	return nil
}
