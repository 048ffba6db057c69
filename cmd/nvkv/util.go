package main

import (
	"fmt"
	"strconv"
)

// parseUint16 parses a CLI numeric argument as decimal, 0x-hex, or 0b-binary
// (strconv's base-0 rules), rejecting anything that overflows 16 bits.
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("nvkv: invalid number %q: %w", s, err)
	}

	return uint16(v), nil
}
