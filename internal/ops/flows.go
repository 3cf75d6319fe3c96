package ops

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/checksum"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
)

// ImagingJob describes one confirmed destructive operation. It is consumed
// by exactly one flow call and discarded on completion.
type ImagingJob struct {
	SourceImagePath string
	TargetDevice    string // kernel name, e.g. "sdb"
	Filesystem      string
	TableStyle      string // "msdos" | "gpt"
	Label           string
	// ReusePartition formats the existing first partition instead of
	// re-creating the partition table.
	ReusePartition bool
}

// Narrow tool contracts. Each has exactly one shelling-out implementation;
// the flows and their tests depend only on these.
type DeviceLister interface {
	List(ctx context.Context) ([]blockdev.BlockDevice, error)
	FirstPartition(ctx context.Context, devName string) (string, bool)
}

type PartitionTool interface {
	CreateSingle(ctx context.Context, devPath, tableStyle string, report progress.Func) (string, error)
}

type FormatTool interface {
	Detect() map[string]string
	Format(ctx context.Context, partName, fsKey, label string, report progress.Func) error
}

type ImageCopier interface {
	Write(ctx context.Context, devPath, imagePath string, report progress.Func) error
}

type ImageInstaller interface {
	Install(ctx context.Context, imagePath, devPath, label string, report progress.Func) error
}

// Flows sequences the tools into the user-facing operations.
type Flows struct {
	Devices     DeviceLister
	Partitioner PartitionTool
	Formatter   FormatTool
	Copier      ImageCopier
	Installer   ImageInstaller
	Log         zerolog.Logger
}

// FormatDevice routes a format request. A device with no partitions, or one
// the user chose to re-table, goes through partition creation first; a
// failed creation is a hard stop and no format command is ever issued.
func (f *Flows) FormatDevice(ctx context.Context, job ImagingJob, report progress.Func) error {
	target := ""
	if job.ReusePartition {
		if name, ok := f.Devices.FirstPartition(ctx, job.TargetDevice); ok {
			target = name
		}
	}
	if target == "" {
		name, err := f.Partitioner.CreateSingle(ctx, blockdev.DevPath(job.TargetDevice), job.TableStyle, report)
		if err != nil {
			return fmt.Errorf("partition creation: %w", err)
		}
		target = name
	}
	f.Log.Info().Str("partition", blockdev.DevPath(target)).Str("filesystem", job.Filesystem).Msg("starting format")
	return f.Formatter.Format(ctx, target, job.Filesystem, job.Label, report)
}

// VerifyImage computes the image digest and corroborates it against an
// online or local reference. The outcome only drives warnings: mismatched
// or unverifiable images are still written.
func (f *Flows) VerifyImage(ctx context.Context, imagePath string, report progress.Func) (string, checksum.Outcome, checksum.Reference, error) {
	digest, err := checksum.Digest(imagePath, report)
	if err != nil {
		return "", checksum.Unverifiable, checksum.Reference{Source: "none"}, err
	}
	f.Log.Info().Str("sha256", digest).Msg("computed image digest")
	outcome, ref := checksum.Verify(ctx, digest, imagePath, f.Log)
	switch outcome {
	case checksum.Matched:
		f.Log.Info().Str("source", ref.Source).Msg("checksum matches reference")
	case checksum.Mismatched:
		f.Log.Warn().Str("source", ref.Source).Str("expected", ref.Digest).Str("computed", digest).
			Msg(color.RedString("checksum does NOT match reference, proceeding anyway"))
	default:
		f.Log.Info().Msg("no checksum reference found, proceeding without verification")
	}
	return digest, outcome, ref, nil
}

// WriteImage raw-copies the image onto the whole device.
func (f *Flows) WriteImage(ctx context.Context, job ImagingJob, report progress.Func) error {
	return f.Copier.Write(ctx, blockdev.DevPath(job.TargetDevice), job.SourceImagePath, report)
}

// InstallImage runs the file-copy installer variant.
func (f *Flows) InstallImage(ctx context.Context, job ImagingJob, report progress.Func) error {
	return f.Installer.Install(ctx, job.SourceImagePath, blockdev.DevPath(job.TargetDevice), job.Label, report)
}
