// Package checksum computes SHA-256 digests of image files and attempts to
// corroborate them against an online or local reference value. Verification
// is advisory: a mismatch warns, it never blocks a write.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gevin456/RaspberryPi-USB-Flasher-ARM-based/pkg/progress"
)

const chunkSize = 4 * 1024 * 1024

// Digest streams the file through SHA-256 in fixed-size chunks, reporting
// cumulative progress after each chunk. A read failure discards the partial
// digest; there is no resumability.
func Digest(path string, report progress.Func) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	total := info.Size()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var read int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
			if total > 0 {
				report.Set(int(read * 100 / total))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read image: %w", err)
		}
	}
	report.Set(100)
	return hex.EncodeToString(h.Sum(nil)), nil
}
