package blockdev

import (
	"fmt"
	"strings"
)

// Partition is a child node of a whole disk. It is owned by its parent
// BlockDevice and discarded with it on the next enumeration.
type Partition struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Mountpoint *string `json:"mountpoint,omitempty"`
}

// BlockDevice is one whole-disk node from the enumerator. The slice returned
// by List is rebuilt wholesale on every call and never mutated in place.
type BlockDevice struct {
	Name       string      `json:"name"`
	Size       string      `json:"size"`
	Model      string      `json:"model,omitempty"`
	Mountpoint *string     `json:"mountpoint,omitempty"`
	Removable  bool        `json:"rm"`
	USB        bool        `json:"usb"`
	Partitions []Partition `json:"partitions,omitempty"`
}

func (d BlockDevice) Path() string { return "/dev/" + d.Name }

func (d BlockDevice) Display() string {
	mp := ""
	if d.Mountpoint != nil {
		mp = *d.Mountpoint
	}
	return fmt.Sprintf("%s | %s | %s | mounted: %s | removable: %v",
		d.Path(), d.Size, strings.TrimSpace(d.Model), mp, d.Removable)
}

func DevPath(name string) string {
	if strings.HasPrefix(name, "/dev/") {
		return name
	}
	return "/dev/" + name
}

func KernelName(path string) string {
	return strings.TrimPrefix(path, "/dev/")
}
