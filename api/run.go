package api

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/krehermann/bytevm/types"
	"github.com/krehermann/bytevm/vm"
	"go.uber.org/zap"
)

// RunRecord is the outcome of one program execution.
type RunRecord struct {
	ID   uuid.UUID  `json:"id"`
	Hash types.Hash `json:"hash"`
	// Output holds the emitted bytes; JSON encodes it as base64.
	Output   []byte        `json:"output"`
	Steps    int           `json:"steps"`
	Stack    int           `json:"stack_depth"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Error    *RunError     `json:"error,omitempty"`
}

type RunError struct {
	Kind    string `json:"kind"`
	IP      int    `json:"ip"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

func newRunError(err error) *RunError {
	var f *vm.Fault
	if !errors.As(err, &f) {
		return &RunError{Kind: "internal", Message: err.Error()}
	}
	re := &RunError{
		Kind:    f.Kind(),
		IP:      f.IP,
		Message: f.Err.Error(),
	}
	if f.HasOp() {
		re.Op = f.Op.String()
	}
	return re
}

// execute runs code on a fresh VM and records the result.
func (s *Server) execute(ctx context.Context, h types.Hash, code []byte) (*RunRecord, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	out := &bytes.Buffer{}
	opts := append(s.VM.VMOpts(),
		vm.OutputOpt(out),
		vm.LoggerOpt(s.logger.With(zap.Stringer("run", id))),
		vm.TableOpt(s.table),
	)
	machine := vm.NewVM(code, opts...)

	rec := &RunRecord{
		ID:      id,
		Hash:    h,
		Started: time.Now().UTC(),
	}
	runErr := machine.Run(ctx)
	rec.Duration = time.Since(rec.Started)
	rec.Output = out.Bytes()
	rec.Steps = machine.Steps()
	rec.Stack = machine.Stack.Len()
	if runErr != nil {
		rec.Error = newRunError(runErr)
	}

	s.logger.Info("run finished",
		zap.Stringer("run", id),
		zap.Stringer("hash", h),
		zap.Int("steps", rec.Steps),
		zap.Duration("duration", rec.Duration),
		zap.Error(runErr))

	if err := s.runs.Put(id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
