package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a radio endpoint. Zero is reserved.
type Address uint16

func (a Address) Valid() bool {
	return a != 0
}

func (a Address) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", raw, err)
	}
	addr := Address(v)
	if !addr.Valid() {
		return 0, fmt.Errorf("address %q is reserved", raw)
	}

	return addr, nil
}
