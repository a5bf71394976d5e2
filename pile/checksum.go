package pile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SHA256File computes the hex-encoded sha256 of a file's contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256 checks a file against an expected hex checksum. An empty
// expectation passes: not every component mirror publishes checksums.
func VerifySHA256(path, want string) error {
	if want == "" {
		return nil
	}
	got, err := SHA256File(path)
	if err != nil {
		return fmt.Errorf("checksumming %s: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}
