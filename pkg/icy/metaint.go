package icy

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// BlockSize is the unit of the metadata length byte.
	BlockSize = 16

	// MaxBlocks is the largest value the length byte can hold.
	MaxBlocks = 255

	// MaxPayload is the largest serialized metadata text that fits a block.
	MaxPayload = BlockSize * MaxBlocks
)

// ParseMetaint parses the value of an icy-metaint header.
func ParseMetaint(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(ErrConfiguration, "metaint %q is not a number", s)
	}
	if err := validateMetaint(n); err != nil {
		return 0, err
	}
	return n, nil
}

func validateMetaint(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrConfiguration, "metaint must be positive, got %d", n)
	}
	return nil
}
