package store

import (
	"encoding/gob"
	"io"
)

type Encoder[T any] interface {
	Encode(T) error
}

type Decoder[T any] interface {
	Decode(T) error
}

// Snapshot is the persisted form of a program store.
type Snapshot struct {
	Version  uint32
	Programs []*Program
}

const SnapshotVersion = 1

type GobSnapshotEncoder struct {
	w io.Writer
}

func NewGobSnapshotEncoder(w io.Writer) *GobSnapshotEncoder {
	return &GobSnapshotEncoder{
		w: w,
	}
}

func (e GobSnapshotEncoder) Encode(s *Snapshot) error {
	return gob.NewEncoder(e.w).Encode(s)
}

type GobSnapshotDecoder struct {
	r io.Reader
}

func NewGobSnapshotDecoder(r io.Reader) *GobSnapshotDecoder {
	return &GobSnapshotDecoder{
		r: r,
	}
}

func (d GobSnapshotDecoder) Decode(s *Snapshot) error {
	return gob.NewDecoder(d.r).Decode(s)
}
