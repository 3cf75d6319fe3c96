// Package partition creates single-partition layouts and drives the mkfs
// tools. All operations here are destructive and strictly sequential: each
// step is a precondition for the next and nothing is rolled back.
package partition

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/shell"
)

// Timing tunables. The config layer applies the configured values at
// startup; the defaults stand on their own for direct callers.
var (
	partedTimeout = 30 * time.Second
	// settleDelay gives the kernel a moment after unmounts and after the
	// fallback table re-read before we go looking for the new node.
	settleDelay = 500 * time.Millisecond
	rereadWait  = 2 * time.Second
)

// SetTiming overrides the subprocess timeout and the kernel settle delay.
// Non-positive values leave the current setting untouched.
func SetTiming(toolTimeout, settle time.Duration) {
	if toolTimeout > 0 {
		partedTimeout = toolTimeout
	}
	if settle > 0 {
		settleDelay = settle
	}
}

// ErrPartitionNotFound means the new partition never became visible after
// every re-read fallback. Callers must treat this as a hard stop: no format
// command may be issued afterwards.
var ErrPartitionNotFound = errors.New("new partition not found after re-reading partition table")

// test seams
var (
	runTool        = defaultRunTool
	firstPartition = blockdev.FindFirstPartition
	unmountAll     = blockdev.UnmountChildren
	lookPath       = exec.LookPath
	sleep          = time.Sleep
)

func defaultRunTool(ctx context.Context, name string, args ...string) error {
	res, err := shell.Run(ctx, partedTimeout, name, args...)
	if err != nil {
		if errors.Is(err, shell.ErrTimeout) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return &shell.ToolError{Tool: name, Code: res.Code, Stderr: string(res.Stderr)}
	}
	return nil
}

// CreateSingle wipes the partition table on devPath and creates one
// partition spanning the whole device. tableStyle is "msdos" or "gpt".
// Returns the kernel name of the new partition (e.g. "sdb1").
func CreateSingle(ctx context.Context, devPath, tableStyle string, report progress.Func, log zerolog.Logger) (string, error) {
	if _, err := lookPath("parted"); err != nil {
		return "", &shell.MissingError{Tool: "parted"}
	}
	log.Info().Str("device", devPath).Str("table", tableStyle).Msg("creating single partition, wiping partition table")

	unmountAll(ctx, blockdev.KernelName(devPath), log)
	sleep(settleDelay)

	report.Set(20)
	if err := runTool(ctx, "parted", "-s", devPath, "mklabel", tableStyle); err != nil {
		return "", fmt.Errorf("mklabel %s: %w", tableStyle, err)
	}
	report.Set(40)
	if err := runTool(ctx, "parted", "-s", devPath, "mkpart", "primary", "0%", "100%"); err != nil {
		return "", fmt.Errorf("mkpart: %w", err)
	}

	rereadTable(ctx, devPath, log)
	sleep(settleDelay)

	name, ok := firstPartition(ctx, blockdev.KernelName(devPath))
	if !ok {
		log.Error().Str("device", devPath).Msg("failed to detect new partition after creating it")
		return "", ErrPartitionNotFound
	}
	log.Info().Str("partition", blockdev.DevPath(name)).Msg("created partition")
	report.Set(50)
	return name, nil
}

// rereadTable asks the kernel to pick up the new table, trying partprobe,
// then blockdev --rereadpt, then a fixed wait when neither tool exists.
func rereadTable(ctx context.Context, devPath string, log zerolog.Logger) {
	if _, err := lookPath("partprobe"); err == nil {
		if err := runTool(ctx, "partprobe", devPath); err != nil {
			log.Warn().Err(err).Msg("partprobe failed")
		}
		return
	}
	if _, err := lookPath("blockdev"); err == nil {
		if err := runTool(ctx, "blockdev", "--rereadpt", devPath); err != nil {
			log.Warn().Err(err).Msg("blockdev --rereadpt failed")
		}
		return
	}
	log.Warn().Msg("no partition re-probe tool available, waiting instead")
	sleep(rereadWait)
}

// test seam for the mkfs process itself
var streamTool = shell.Stream

// RunFormat unmounts anything under partName, builds the mkfs command for
// fsKey and runs it. Progress is synthetic: one point per output line,
// capped at 95, then 100 on exit regardless of the exit code. The exit code
// is the sole success signal; tool output is logged, never parsed.
func RunFormat(ctx context.Context, partName, tool, fsKey, label string, report progress.Func, log zerolog.Logger) error {
	devPath := blockdev.DevPath(partName)
	log.Info().Str("device", devPath).Str("filesystem", fsKey).Msg("preparing to format")

	report.Set(10)
	unmountAll(ctx, partName, log)

	argv := BuildFormatCommand(tool, fsKey, devPath, label)
	log.Info().Strs("command", argv).Msg("running mkfs")

	report.Set(60)
	pct := 60
	code, err := streamTool(ctx, argv[0], argv[1:], func(line string) {
		log.Info().Str("tool", argv[0]).Msg(line)
		if pct < 95 {
			pct++
			report.Set(pct)
		}
	})
	report.Set(100)
	if err != nil {
		log.Error().Int("code", code).Err(err).Msg("format failed")
		return fmt.Errorf("format %s as %s: %w", devPath, fsKey, err)
	}
	log.Info().Str("device", devPath).Msg("format completed successfully")
	return nil
}
