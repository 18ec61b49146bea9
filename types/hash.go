package types

import (
	"encoding/hex"
	"fmt"
)

const HASH_BYTE_LEN = 32

// Hash identifies a program by content.
type Hash [HASH_BYTE_LEN]uint8

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HASH_BYTE_LEN {
		return h, fmt.Errorf("given byte slice len %d but must be %d", len(b), HASH_BYTE_LEN)
	}
	copy(h[:], b)
	return h, nil
}

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return HashFromBytes(b)
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) ToSlice() []byte {
	out := make([]byte, HASH_BYTE_LEN)
	copy(out, h[:])
	return out
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
