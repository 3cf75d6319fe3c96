package ops

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/blockdev"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/config"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/imaging"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/installer"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/internal/partition"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/shell"
)

// NewFlows wires the shelling-out tool implementations together and
// applies the configured timing to the packages that shell out.
func NewFlows(cfg config.Config, log zerolog.Logger) *Flows {
	blockdev.SetToolTimeout(cfg.ToolTimeout)
	partition.SetTiming(cfg.ToolTimeout, cfg.SettleDelay)
	return &Flows{
		Devices:     shellDevices{},
		Partitioner: shellPartitioner{log: log},
		Formatter:   shellFormatter{timeout: cfg.CopyTimeout, log: log},
		Copier:      shellCopier{timeout: cfg.CopyTimeout, log: log},
		Installer:   shellInstaller{inner: &installer.Installer{CopyTimeout: cfg.CopyTimeout, Log: log}},
		Log:         log,
	}
}

type shellDevices struct{}

func (shellDevices) List(ctx context.Context) ([]blockdev.BlockDevice, error) {
	return blockdev.List(ctx)
}

func (shellDevices) FirstPartition(ctx context.Context, devName string) (string, bool) {
	return blockdev.FindFirstPartition(ctx, devName)
}

type shellPartitioner struct {
	log zerolog.Logger
}

func (p shellPartitioner) CreateSingle(ctx context.Context, devPath, tableStyle string, report progress.Func) (string, error) {
	return partition.CreateSingle(ctx, devPath, tableStyle, report, p.log)
}

type shellFormatter struct {
	timeout time.Duration
	log     zerolog.Logger
}

func (f shellFormatter) Detect() map[string]string {
	return partition.DetectFilesystems()
}

func (f shellFormatter) Format(ctx context.Context, partName, fsKey, label string, report progress.Func) error {
	tool, ok := partition.DetectFilesystems()[fsKey]
	if !ok {
		return &shell.MissingError{Tool: "mkfs." + fsKey}
	}
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return partition.RunFormat(cctx, partName, tool, fsKey, label, report, f.log)
}

type shellCopier struct {
	timeout time.Duration
	log     zerolog.Logger
}

func (c shellCopier) Write(ctx context.Context, devPath, imagePath string, report progress.Func) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return imaging.WriteImage(cctx, devPath, imagePath, report, c.log)
}

type shellInstaller struct {
	inner *installer.Installer
}

func (s shellInstaller) Install(ctx context.Context, imagePath, devPath, label string, report progress.Func) error {
	return s.inner.Run(ctx, imagePath, devPath, label, report)
}
