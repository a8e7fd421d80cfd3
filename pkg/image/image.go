// Package image loads a whole-flash firmware image file for the
// updater (C6, spec §4.6): read it entirely into memory and reject
// anything that is not exactly the chip's flash size. The contents are
// otherwise opaque to this package.
package image

import (
	"fmt"
	"os"

	"avaneesh/chip-updater/pkg/wire"
)

// Load reads path and validates that it is exactly wire.ChipFlashSize
// bytes.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: read %s: %w", path, err)
	}

	if uint32(len(data)) != wire.ChipFlashSize {
		return nil, fmt.Errorf("image: %s is %d bytes, want exactly %d", path, len(data), wire.ChipFlashSize)
	}
	return data, nil
}
