// Package imaging streams a disk image byte-for-byte onto a raw block
// device, scraping progress out of the copy tools' status output.
package imaging

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/shell"
)

const blockSize = "4M"

var (
	pvPercentRe = regexp.MustCompile(`(\d+)%`)
	ddBytesRe   = regexp.MustCompile(`(\d+) bytes`)
)

// test seam
var lookPath = exec.LookPath

// WriteImage copies imagePath onto devPath. When pv is available the image
// is piped through it into dd and pv's percentage output drives progress;
// otherwise dd runs alone with status=progress and transferred bytes are
// ratioed against the image size. Either way progress is forced to 100 on
// exit and the tool's exit code is the sole success signal. Failures are
// logged, never retried.
func WriteImage(ctx context.Context, devPath, imagePath string, report progress.Func, log zerolog.Logger) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		report.Set(100)
		return fmt.Errorf("image file: %w", err)
	}
	total := info.Size()

	log.Info().Str("image", imagePath).Str("device", devPath).Msg("preparing to write image, this will overwrite the device")
	report.Set(5)
	blockdev.UnmountChildren(ctx, blockdev.KernelName(devPath), log)

	if _, err := lookPath("dd"); err != nil {
		report.Set(100)
		return &shell.MissingError{Tool: "dd"}
	}

	if _, err := lookPath("pv"); err == nil {
		log.Info().Msg("using pv to stream image into dd for better progress")
		err = writeWithPV(ctx, devPath, imagePath, report, log)
	} else {
		err = writeWithDD(ctx, devPath, imagePath, total, report, log)
	}
	report.Set(100)
	if err != nil {
		log.Error().Err(err).Msg("image write failed")
		return err
	}
	log.Info().Str("device", devPath).Msg("image written successfully")
	return nil
}

func writeWithPV(ctx context.Context, devPath, imagePath string, report progress.Func, log zerolog.Logger) error {
	pv := exec.CommandContext(ctx, "pv", imagePath)
	dd := exec.CommandContext(ctx, "dd", "of="+devPath, "bs="+blockSize, "status=progress")

	pvOut, err := pv.StdoutPipe()
	if err != nil {
		return err
	}
	dd.Stdin = pvOut
	var ddStderr bytes.Buffer
	dd.Stderr = &ddStderr
	pvErr, err := pv.StderrPipe()
	if err != nil {
		return err
	}

	if err := pv.Start(); err != nil {
		return fmt.Errorf("start pv: %w", err)
	}
	if err := dd.Start(); err != nil {
		_ = pv.Wait()
		return fmt.Errorf("start dd: %w", err)
	}

	sc := bufio.NewScanner(pvErr)
	sc.Split(shell.ScanProgressLines)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		log.Debug().Str("tool", "pv").Msg(line)
		if pct, ok := ParsePVPercent(line); ok {
			report.Set(pct)
		}
	}
	_ = pv.Wait()
	if err := dd.Wait(); err != nil {
		return &shell.ToolError{Tool: "dd", Code: dd.ProcessState.ExitCode(), Stderr: ddStderr.String()}
	}
	return nil
}

func writeWithDD(ctx context.Context, devPath, imagePath string, total int64, report progress.Func, log zerolog.Logger) error {
	args := []string{"if=" + imagePath, "of=" + devPath, "bs=" + blockSize, "status=progress"}
	log.Info().Strs("command", append([]string{"dd"}, args...)).Msg("running dd")
	_, err := shell.Stream(ctx, "dd", args, func(line string) {
		log.Debug().Str("tool", "dd").Msg(line)
		if n, ok := ParseDDBytes(line); ok && total > 0 {
			report.Set(int(n * 100 / total))
		}
	})
	return err
}

// ParsePVPercent extracts the percentage from a pv status line.
func ParsePVPercent(line string) (int, bool) {
	m := pvPercentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}

// ParseDDBytes extracts the transferred byte count from a dd status line
// such as "1048576000 bytes (1.0 GB, 1000 MiB) copied, 12 s, 87.4 MB/s".
func ParseDDBytes(line string) (int64, bool) {
	m := ddBytesRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
