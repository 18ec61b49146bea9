package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/krehermann/bytevm/types"
	"go.uber.org/zap"
)

type Program struct {
	Hash    types.Hash `json:"hash"`
	Code    []byte     `json:"code"`
	Created time.Time  `json:"created"`
}

// Programs holds bytecode keyed by its content hash.
type Programs struct {
	store  *MemStore[types.Hash, *Program]
	hasher Hasher[[]byte]
	logger *zap.Logger
}

type ProgramsOpt func(*Programs) *Programs

func WithLogger(l *zap.Logger) ProgramsOpt {
	return func(p *Programs) *Programs {
		p.logger = l
		return p
	}
}

func WithHasher(h Hasher[[]byte]) ProgramsOpt {
	return func(p *Programs) *Programs {
		p.hasher = h
		return p
	}
}

func NewPrograms(opts ...ProgramsOpt) *Programs {
	p := &Programs{
		store:  NewMemStore[types.Hash, *Program](),
		hasher: ProgramHasher{},
		logger: zap.L(),
	}
	for _, opt := range opts {
		p = opt(p)
	}
	p.logger = p.logger.Named("store")
	return p
}

// Add stores a copy of code and returns its record. Adding the same bytes
// twice returns the existing record.
func (p *Programs) Add(code []byte) (*Program, error) {
	h := p.hasher.Hash(code)
	prog := &Program{
		Hash:    h,
		Code:    append([]byte(nil), code...),
		Created: time.Now().UTC(),
	}
	stored, existed, err := p.store.PutIfAbsent(h, prog)
	if err != nil {
		return nil, fmt.Errorf("add program %s: %w", h, err)
	}
	if existed {
		return stored, nil
	}
	p.logger.Debug("program added",
		zap.Stringer("hash", h),
		zap.Int("size", len(code)))
	return prog, nil
}

// Hash is the key Add would store code under.
func (p *Programs) Hash(code []byte) types.Hash {
	return p.hasher.Hash(code)
}

func (p *Programs) Get(h types.Hash) (*Program, error) {
	return p.store.Get(h)
}

func (p *Programs) Delete(h types.Hash) error {
	return p.store.Delete(h)
}

func (p *Programs) Len() int {
	return p.store.Len()
}

func (p *Programs) Close() {
	p.store.Close()
}

// Save writes every program to enc, oldest first.
func (p *Programs) Save(enc Encoder[*Snapshot]) error {
	progs, err := p.store.Values()
	if err != nil {
		return fmt.Errorf("save programs: %w", err)
	}
	sort.Slice(progs, func(i, j int) bool {
		return progs[i].Created.Before(progs[j].Created)
	})
	if err := enc.Encode(&Snapshot{Version: SnapshotVersion, Programs: progs}); err != nil {
		return fmt.Errorf("save programs: %w", err)
	}
	p.logger.Info("programs saved", zap.Int("count", len(progs)))
	return nil
}

// Restore loads a snapshot written by Save. Programs whose bytes no longer
// match their hash are rejected.
func (p *Programs) Restore(dec Decoder[*Snapshot]) error {
	snap := &Snapshot{}
	if err := dec.Decode(snap); err != nil {
		return fmt.Errorf("restore programs: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("restore programs: unsupported snapshot version %d", snap.Version)
	}
	for _, prog := range snap.Programs {
		if got := p.hasher.Hash(prog.Code); got != prog.Hash {
			return fmt.Errorf("restore programs: program %s hashes to %s", prog.Hash, got)
		}
		if err := p.store.Put(prog.Hash, prog); err != nil {
			return fmt.Errorf("restore programs: %w", err)
		}
	}
	p.logger.Info("programs restored", zap.Int("count", len(snap.Programs)))
	return nil
}
