package vm

import (
	"errors"
	"fmt"
)

var (
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrOutOfBoundsJump      = errors.New("jump target out of bounds")
	ErrTruncatedInstruction = errors.New("truncated instruction")
	// ErrMissingHalt is returned when execution advances past the last byte
	// of the program without fetching a halt.
	ErrMissingHalt  = errors.New("program ended without halt")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrEmptyProgram = errors.New("empty program")
)

var faultKinds = []struct {
	err  error
	kind string
}{
	{ErrStackUnderflow, "stack_underflow"},
	{ErrStackOverflow, "stack_overflow"},
	{ErrDivisionByZero, "division_by_zero"},
	{ErrOutOfBoundsJump, "out_of_bounds_jump"},
	{ErrTruncatedInstruction, "truncated_instruction"},
	{ErrMissingHalt, "missing_halt"},
	{ErrStepLimit, "step_limit"},
}

// Fault is a failure raised while executing the instruction at IP. It
// wraps one of the sentinel errors above, or a context or output error.
type Fault struct {
	IP  int
	Op  Instruction
	Err error

	// set when the program ended before any instruction was fetched, so
	// Op names nothing
	unfetched bool
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Location(), f.Err)
}

// HasOp reports whether Op is an instruction the VM actually fetched.
func (f *Fault) HasOp() bool {
	return !f.unfetched
}

// Location renders where the fault happened, e.g. "ip 13 (MOD)".
func (f *Fault) Location() string {
	if f.unfetched {
		return fmt.Sprintf("ip %d", f.IP)
	}
	return fmt.Sprintf("ip %d (%s)", f.IP, f.Op)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Kind is a stable name for the class of fault, suitable for machine
// consumption.
func (f *Fault) Kind() string {
	for _, fk := range faultKinds {
		if errors.Is(f.Err, fk.err) {
			return fk.kind
		}
	}
	if errors.Is(f.Err, errCanceled) {
		return "canceled"
	}
	return "io"
}

// errCanceled tags a context error so Kind can tell it apart from an
// output failure.
var errCanceled = errors.New("execution canceled")
