package blockdev

import (
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

// AnnotateUSB marks devices whose bus path reports a USB transport.
// Best-effort: when ghw cannot probe the host the list is left untouched.
func AnnotateUSB(devices []BlockDevice) {
	b, err := block.New(ghw.WithDisableTools())
	if err != nil {
		return
	}
	usb := map[string]bool{}
	for _, d := range b.Disks {
		if strings.Contains(d.BusPath, "usb") {
			usb[d.Name] = true
		}
	}
	for i := range devices {
		if usb[devices[i].Name] {
			devices[i].USB = true
		}
	}
}
