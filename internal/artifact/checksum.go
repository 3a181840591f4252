package artifact

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Algorithm names accepted by Checksum.
const (
	SHA256 = "sha256"
	MD5    = "md5"
)

// Checksum computes a local integrity fingerprint for a completed artifact.
// This is purely advisory bookkeeping: the job server's protocol has no hash
// field, so a checksum failure elsewhere is logged, never fatal.
func Checksum(path string, algorithm string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("artifact: open %s for checksum: %w", path, err)
	}
	defer f.Close()

	switch algorithm {
	case SHA256:
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("artifact: hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	case MD5:
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("artifact: hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("artifact: unsupported checksum algorithm %q", algorithm)
	}
}
