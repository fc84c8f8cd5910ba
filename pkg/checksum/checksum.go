// Package checksum computes the 128-bit identity of a static file from its
// normalized content, and holds the per-file-kind normalization rules that
// decide what "normalized" means for a given file name.
package checksum

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Sum is a 128-bit checksum of a normalized file. It is the first 16 bytes
// of an unkeyed BLAKE2b-512 digest - any 128-bit deterministic cryptographic
// hash is acceptable as long as the index and the analyzer agree on it.
type Sum [16]byte

func (s Sum) String() string {
	return fmt.Sprintf("%x", [16]byte(s))
}

// IsZero reports whether s is the zero checksum, used to distinguish "not
// computed" from a legitimate all-zero digest in tests and debug output.
func (s Sum) IsZero() bool {
	return s == Sum{}
}

// Calculate returns the checksum of raw bytes, with no normalization
// applied. Callers normalizing file content should pass the normalized form.
func Calculate(data []byte) Sum {
	digest := blake2b.Sum512(data)
	var sum Sum
	copy(sum[:], digest[:16])
	return sum
}

// Checksum normalizes raw content according to the file kind matching name,
// then returns its checksum. ok is false when no registered kind matches
// the name, or when the matching kind's normalization rejects the content
// (e.g. a ".json" file that fails to decode as JSON) - in neither case does
// checksum fall through to a later-registered kind.
func Checksum(name string, raw []byte) (sum Sum, kind *FileKind, ok bool) {
	k, found := KindForFilename(name)
	if !found {
		return Sum{}, nil, false
	}
	normalized, normalizeOK := k.Normalize(raw)
	if !normalizeOK {
		return Sum{}, nil, false
	}
	return Calculate(normalized), k, true
}

// baseName mirrors filepath.Base but works on URL-shaped paths using "/" on
// every platform, matching the webroot path convention used throughout this
// module.
func baseName(name string) string {
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// extOf returns the lower-cased extension of name (without the leading
// dot), or "" if name has none.
func extOf(name string) string {
	ext := filepath.Ext(baseName(name))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
