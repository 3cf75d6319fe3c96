package installer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestChooseFilesystem(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want string
	}{
		{"small image", 64 << 20, "vfat"},
		{"exactly at threshold", 4 << 30, "vfat"},
		{"one byte over threshold", 4<<30 + 1, "exfat"},
		{"large image", 5 << 30, "exfat"},
		{"empty image", 0, "vfat"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChooseFilesystem(tc.size); got != tc.want {
				t.Errorf("ChooseFilesystem(%d) = %q, want %q", tc.size, got, tc.want)
			}
		})
	}
}

func TestRunMissingImage(t *testing.T) {
	ins := &Installer{CopyTimeout: time.Hour, Log: zerolog.Nop()}
	err := ins.Run(context.Background(), filepath.Join(t.TempDir(), "no-such.img"), "/dev/sdz", "", nil)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}
