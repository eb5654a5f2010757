// Package harness locates and validates the helper executable mandrake
// injects raw machine code into when analyzing code rather than a complete
// ELF binary.
package harness

import (
	"fmt"
	"os"
)

// DefaultPath is used when the caller does not override the harness
// location.
const DefaultPath = "./harness/harness"

// LoadAddress is the fixed address the harness always loads injected code
// to; visibility.HarnessLoadAddress, which visibility.Harness() filters on,
// holds the same value.
const LoadAddress = 0x13370000

// Locate resolves the harness path to use: path if non-empty, else
// DefaultPath.
func Locate(path string) string {
	if path == "" {
		return DefaultPath
	}
	return path
}

// Validate confirms the harness executable exists at path. It returns a
// descriptive error pointing the caller at where to obtain one when it
// doesn't.
func Validate(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("could not find the execution harness: %s - use --harness to specify the path to the 'harness' executable (which is available on https://github.com/counterhack)", path)
	}
	return nil
}
