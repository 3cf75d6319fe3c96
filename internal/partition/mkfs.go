package partition

import (
	"os/exec"
	"strings"
)

// Filesystem keys in presentation order; each maps to the mkfs binaries that
// can produce it, probed in order.
var fsCandidates = []struct {
	Key   string
	Tools []string
}{
	{"ext4", []string{"mkfs.ext4"}},
	{"vfat", []string{"mkfs.vfat", "mkfs.fat"}},
	{"exfat", []string{"mkfs.exfat"}},
	{"ntfs", []string{"mkfs.ntfs", "mkntfs"}},
	{"xfs", []string{"mkfs.xfs"}},
	{"btrfs", []string{"mkfs.btrfs"}},
}

// DetectFilesystems probes PATH for the known mkfs tools and returns
// filesystem key -> tool name for every filesystem that can be created on
// this host.
func DetectFilesystems() map[string]string {
	found := map[string]string{}
	for _, c := range fsCandidates {
		for _, t := range c.Tools {
			if _, err := exec.LookPath(t); err == nil {
				found[c.Key] = t
				break
			}
		}
	}
	return found
}

// FilesystemKeys returns the detectable keys in presentation order.
func FilesystemKeys(found map[string]string) []string {
	keys := []string{}
	for _, c := range fsCandidates {
		if _, ok := found[c.Key]; ok {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// BuildFormatCommand maps a filesystem key to the exact mkfs invocation.
// The flag table is part of the tool's contract: force flags differ per
// filesystem, label flags are -L or -n, and a blank label is omitted
// entirely rather than passed as an empty string. Unrecognized keys fall
// back to the generic mkfs front-end.
func BuildFormatCommand(tool, fsKey, devPath, label string) []string {
	switch {
	case strings.HasPrefix(fsKey, "ext4"):
		args := []string{tool, "-F"}
		if label != "" {
			args = append(args, "-L", label)
		}
		return append(args, devPath)
	case strings.HasPrefix(fsKey, "vfat"):
		args := []string{tool, "-F", "32"}
		if label != "" {
			args = append(args, "-n", label)
		}
		return append(args, devPath)
	case strings.HasPrefix(fsKey, "exfat"):
		args := []string{tool}
		if label != "" {
			args = append(args, "-n", label)
		}
		return append(args, devPath)
	case strings.HasPrefix(fsKey, "ntfs"):
		args := []string{tool}
		if label != "" {
			args = append(args, "-L", label)
		}
		return append(args, devPath)
	case strings.HasPrefix(fsKey, "xfs"), strings.HasPrefix(fsKey, "btrfs"):
		args := []string{tool, "-f"}
		if label != "" {
			args = append(args, "-L", label)
		}
		return append(args, devPath)
	}
	return []string{"mkfs", "-t", strings.Fields(fsKey)[0], devPath}
}
