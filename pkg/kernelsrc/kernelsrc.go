// Package kernelsrc supplies OpenCL kernel source text.
//
// The default ADD kernel is compiled into the binary. Other kernels are read
// from disk with Load, which never fails: an unreadable file yields empty
// source and the build stage reports the problem.
package kernelsrc

import (
	_ "embed"
	"encoding/hex"
	"log"
	"os"

	"golang.org/x/crypto/blake2b"
)

//go:embed add.cl
var addSource string

// DefaultEntryPoint is the kernel function defined by Default.
const DefaultEntryPoint = "ADD"

// Default returns the built-in elementwise add kernel.
func Default() string {
	return addSource
}

// Load returns the contents of path, or "" after logging to logger when the
// file cannot be read. A nil logger uses the standard logger.
func Load(path string, logger *log.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("ERROR: FILE LOADER: Cannot open %s", path)
		return ""
	}
	return string(data)
}

// Resolve returns the embedded kernel for an empty path and Load(path)
// otherwise.
func Resolve(path string, logger *log.Logger) string {
	if path == "" {
		return Default()
	}
	return Load(path, logger)
}

// Fingerprint returns the hex BLAKE2b-256 digest of src.
func Fingerprint(src string) string {
	sum := blake2b.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}
