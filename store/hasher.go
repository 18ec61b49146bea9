package store

import (
	"crypto/sha256"

	"github.com/krehermann/bytevm/types"
)

type Hasher[T any] interface {
	Hash(T) types.Hash
}

// ProgramHasher content addresses bytecode with SHA-256.
type ProgramHasher struct{}

func (ProgramHasher) Hash(code []byte) types.Hash {
	return types.Hash(sha256.Sum256(code))
}
