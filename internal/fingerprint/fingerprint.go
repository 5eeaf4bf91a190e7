// Package fingerprint derives cheap file identities from metadata for use
// in conditional requests. Fingerprints are not cryptographically strong;
// they only need to change when a local file is edited.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Entry is the identity of a single file: its base name, modification time
// in whole seconds, and size. A path that cannot be stat'd yields a Missing
// entry so callers can fold absence into a combined signature without
// special-casing it.
type Entry struct {
	Name    string
	MTime   int64
	Size    int64
	Missing bool
}

// File returns the metadata fingerprint for path.
func File(path string) Entry {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Entry{Name: filepath.Base(path), Missing: true}
	}
	return Entry{
		Name:  filepath.Base(path),
		MTime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
}

// String renders the canonical serialization digested by Combined.
func (e Entry) String() string {
	if e.Missing {
		return e.Name + ":missing"
	}
	return fmt.Sprintf("%s:%d:%d", e.Name, e.MTime, e.Size)
}

// Combined digests the fingerprints of paths, in the order given, into a
// quoted ETag token. Ordering is the caller's contract and is never
// re-sorted here, so the same files with unchanged metadata always produce
// the same token across restarts.
func Combined(paths []string) string {
	h := sha256.New()
	for _, p := range paths {
		io.WriteString(h, File(p).String())
		io.WriteString(h, ";")
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}
