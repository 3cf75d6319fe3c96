package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel zerolog.Level
	// LogFile receives the append-only activity log alongside stderr.
	LogFile string
	// ToolTimeout bounds light subprocess calls (lsblk, parted, partprobe).
	ToolTimeout time.Duration
	// CopyTimeout bounds the long steps: dd, mkfs and the recursive copy.
	CopyTimeout time.Duration
	// SettleDelay is how long to wait for the kernel to catch up after
	// unmounts and partition table changes.
	SettleDelay time.Duration
}

func Default() Config {
	return Config{
		LogLevel:    zerolog.InfoLevel,
		LogFile:     "/var/log/usb-flasher.log",
		ToolTimeout: 30 * time.Second,
		CopyTimeout: time.Hour,
		SettleDelay: 2 * time.Second,
	}
}

// FromViper builds a Config from the merged viper state (config file,
// USB_FLASHER_* environment, flags).
func FromViper(v *viper.Viper) Config {
	cfg := Default()
	if s := v.GetString("log_level"); s != "" {
		if l, err := zerolog.ParseLevel(s); err == nil {
			cfg.LogLevel = l
		}
	}
	if s := v.GetString("log_file"); s != "" {
		cfg.LogFile = s
	}
	if d := v.GetDuration("tool_timeout"); d > 0 {
		cfg.ToolTimeout = d
	}
	if d := v.GetDuration("copy_timeout"); d > 0 {
		cfg.CopyTimeout = d
	}
	if d := v.GetDuration("settle_delay"); d > 0 {
		cfg.SettleDelay = d
	}
	return cfg
}

// Logger writes the activity log to w (normally stderr) and, when the log
// file can be opened, appends a plain copy there too. The file handle is
// left open for the life of the process.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	out := io.Writer(console)
	if f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		out = zerolog.MultiLevelWriter(console, zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339})
	} else if f, err := os.OpenFile("usb-flasher.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		out = zerolog.MultiLevelWriter(console, zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339})
	}
	return zerolog.New(out).Level(c.LogLevel).With().Timestamp().Logger()
}
