package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/shell"
)

// toolTimeout bounds every subprocess call in this package. The config
// layer applies the configured value at startup.
var toolTimeout = 5 * time.Second

// SetToolTimeout overrides the subprocess timeout. Non-positive values
// are ignored.
func SetToolTimeout(d time.Duration) {
	if d > 0 {
		toolTimeout = d
	}
}

type lsblkJSON struct {
	Blockdevices []lsblkNode `json:"blockdevices"`
}

type lsblkNode struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Size       string      `json:"size"`
	Model      *string     `json:"model"`
	Mountpoint *string     `json:"mountpoint"`
	Type       string      `json:"type"`
	RM         any         `json:"rm"`
	Children   []lsblkNode `json:"children"`
}

// Older util-linux emits RM as "0"/"1" strings, newer as JSON booleans.
func parseFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "1" || t == "true"
	case float64:
		return t != 0
	}
	return false
}

// test seam
var runLsblk = func(ctx context.Context, args ...string) ([]byte, error) {
	if _, err := shell.LookPath("lsblk"); err != nil {
		return nil, err
	}
	res, err := shell.Run(ctx, toolTimeout, "lsblk", args...)
	if err != nil {
		return nil, &shell.ToolError{Tool: "lsblk", Code: res.Code, Stderr: string(res.Stderr)}
	}
	return res.Stdout, nil
}

// List enumerates whole disks with their partition children. Only top-level
// nodes of type "disk" are returned; partitions never appear at the top
// level. A missing or misbehaving lsblk surfaces as an error the caller
// should treat as "no devices available".
func List(ctx context.Context) ([]BlockDevice, error) {
	out, err := runLsblk(ctx, "-J", "-o", "NAME,KNAME,SIZE,MODEL,MOUNTPOINT,TYPE,RM")
	if err != nil {
		return nil, err
	}
	var tree lsblkJSON
	if err := json.Unmarshal(out, &tree); err != nil {
		return nil, fmt.Errorf("malformed lsblk output: %w", err)
	}
	devices := []BlockDevice{}
	for _, n := range tree.Blockdevices {
		if n.Type != "disk" {
			continue
		}
		d := BlockDevice{
			Name:       n.Name,
			Size:       n.Size,
			Mountpoint: n.Mountpoint,
			Removable:  parseFlag(n.RM),
		}
		if n.Model != nil {
			d.Model = *n.Model
		}
		for _, c := range n.Children {
			d.Partitions = append(d.Partitions, Partition{Name: c.Name, Type: c.Type, Mountpoint: c.Mountpoint})
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// FindFirstPartition re-queries lsblk scoped to one device and returns the
// first child tagged as a partition.
func FindFirstPartition(ctx context.Context, devName string) (string, bool) {
	out, err := runLsblk(ctx, "-J", DevPath(devName), "-o", "NAME,TYPE")
	if err != nil {
		return "", false
	}
	var tree lsblkJSON
	if err := json.Unmarshal(out, &tree); err != nil {
		return "", false
	}
	var first string
	var walk func(nodes []lsblkNode)
	walk = func(nodes []lsblkNode) {
		for _, n := range nodes {
			if first == "" && n.Type == "part" {
				first = n.Name
			}
			walk(n.Children)
		}
	}
	walk(tree.Blockdevices)
	return first, first != ""
}

// UnmountChildren unmounts every mounted node under devName, the node
// itself included. Failures are logged and otherwise ignored; the
// destructive step that follows will fail on its own if a mount survived.
func UnmountChildren(ctx context.Context, devName string, log zerolog.Logger) {
	out, err := runLsblk(ctx, "-J", DevPath(devName), "-o", "NAME,MOUNTPOINT")
	if err != nil {
		log.Warn().Err(err).Str("device", devName).Msg("could not enumerate children for unmount")
		return
	}
	var tree lsblkJSON
	if err := json.Unmarshal(out, &tree); err != nil {
		log.Warn().Err(err).Str("device", devName).Msg("could not parse children for unmount")
		return
	}
	var walk func(nodes []lsblkNode)
	walk = func(nodes []lsblkNode) {
		for _, n := range nodes {
			if n.Mountpoint != nil && *n.Mountpoint != "" {
				log.Info().Str("device", DevPath(n.Name)).Str("mountpoint", *n.Mountpoint).Msg("unmounting")
				if err := Unmount(ctx, *n.Mountpoint); err != nil {
					log.Warn().Err(err).Str("device", DevPath(n.Name)).Msg("unmount failed")
				}
			}
			walk(n.Children)
		}
	}
	walk(tree.Blockdevices)
}

// test seam
var unmountSyscall = unix.Unmount

// Unmount detaches the filesystem mounted at target, trying the syscall
// first and falling back to the umount tool. target must be a mount
// point; umount(2) does not accept device nodes.
func Unmount(ctx context.Context, target string) error {
	if err := unmountSyscall(target, 0); err == nil {
		return nil
	}
	if _, err := exec.LookPath("umount"); err != nil {
		return &shell.MissingError{Tool: "umount"}
	}
	res, err := shell.Run(ctx, toolTimeout, "umount", target)
	if err != nil {
		return &shell.ToolError{Tool: "umount", Code: res.Code, Stderr: string(res.Stderr)}
	}
	return nil
}
