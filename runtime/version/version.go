// Package version exposes the semantic version of the blockops build.
package version

import (
	"fmt"
	"runtime"
)

// Version is the semantic version of this build. The genesis block records
// it, so changing it changes genesis hashes on fresh ledgers.
const Version = "1.0.0"

// GetVersion returns a human-readable version string for the CLI.
func GetVersion() string {
	return fmt.Sprintf("%s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
