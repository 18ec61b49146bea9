package vm

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultCheckInterval is the number of instructions between checks of the
// run context.
const DefaultCheckInterval = 1024

type VM struct {
	// program bytecode. never written by the vm
	data []byte
	// instruction pointer
	ip int

	Stack  *Stack
	table  *Table
	out    io.Writer
	logger *zap.Logger

	stepLimit     int
	checkInterval int
	steps         int
}

type VMOpt func(*VM) *VM

func LoggerOpt(l *zap.Logger) VMOpt {
	return func(vm *VM) *VM {
		vm.logger = l
		return vm
	}
}

// OutputOpt sets where emitted characters are written. Defaults to stdout.
func OutputOpt(w io.Writer) VMOpt {
	return func(vm *VM) *VM {
		vm.out = w
		return vm
	}
}

// StackSizeOpt sets the capacity of the operand stack.
func StackSizeOpt(size int) VMOpt {
	return func(vm *VM) *VM {
		vm.Stack = NewStack(MaxStack(size))
		return vm
	}
}

// StepLimitOpt bounds the number of dispatched instructions. Zero means no
// limit.
func StepLimitOpt(n int) VMOpt {
	return func(vm *VM) *VM {
		vm.stepLimit = n
		return vm
	}
}

// CheckIntervalOpt sets how many instructions run between checks of the
// context passed to Run. Zero disables the check.
func CheckIntervalOpt(n int) VMOpt {
	return func(vm *VM) *VM {
		vm.checkInterval = n
		return vm
	}
}

// TableOpt shares a prebuilt instruction table.
func TableOpt(t *Table) VMOpt {
	return func(vm *VM) *VM {
		vm.table = t
		return vm
	}
}

func NewVM(data []byte, opts ...VMOpt) *VM {
	vm := &VM{
		data:          data,
		ip:            0,
		Stack:         NewStack(),
		out:           os.Stdout,
		logger:        zap.L(),
		checkInterval: DefaultCheckInterval,
	}

	for _, opt := range opts {
		vm = opt(vm)
	}
	if vm.table == nil {
		vm.table = NewTable()
	}

	vm.logger = vm.logger.Named("vm")

	return vm
}

// Run executes from the current instruction pointer until a halt byte is
// fetched. Any fault stops execution and is returned as a *Fault.
func (vm *VM) Run(ctx context.Context) error {
	debug := vm.logger.Core().Enabled(zapcore.DebugLevel)
	done := ctx.Done()
	var last Instruction
	dispatched := false

	for {
		if vm.ip >= len(vm.data) {
			if !dispatched {
				return vm.raise(&Fault{IP: vm.ip, Err: ErrMissingHalt, unfetched: true})
			}
			return vm.fault(last, ErrMissingHalt)
		}
		inst := Instruction(vm.data[vm.ip])
		if inst == InstructionHalt {
			vm.logger.Debug("halt",
				zap.Int("ip", vm.ip),
				zap.Int("steps", vm.steps))
			return nil
		}

		if vm.stepLimit > 0 && vm.steps >= vm.stepLimit {
			return vm.fault(inst, fmt.Errorf("%d steps: %w", vm.steps, ErrStepLimit))
		}
		if done != nil && vm.checkInterval > 0 && vm.steps%vm.checkInterval == 0 {
			select {
			case <-done:
				return vm.fault(inst, fmt.Errorf("%w: %w", errCanceled, ctx.Err()))
			default:
			}
		}

		if debug {
			vm.logger.Debug("exec",
				zap.Int("ip", vm.ip),
				zap.Stringer("op", inst),
				zap.Int("depth", vm.Stack.Len()))
		}

		next, err := vm.table[inst](vm, vm.ip)
		if err != nil {
			return vm.fault(inst, err)
		}
		vm.ip = next
		vm.steps++
		last = inst
		dispatched = true
	}
}

func (vm *VM) fault(inst Instruction, err error) error {
	return vm.raise(&Fault{IP: vm.ip, Op: inst, Err: err})
}

func (vm *VM) raise(f *Fault) error {
	vm.logger.Debug("fault",
		zap.String("at", f.Location()),
		zap.String("kind", f.Kind()),
		zap.Error(f.Err))
	return fmt.Errorf("vm run: %w", f)
}

// IP is the current instruction pointer. After a fault it is the address of
// the faulting instruction.
func (vm *VM) IP() int {
	return vm.ip
}

// Steps is the number of instructions dispatched so far.
func (vm *VM) Steps() int {
	return vm.steps
}

// Reset rewinds the instruction pointer and clears the stack so the same
// program can run again.
func (vm *VM) Reset() {
	vm.ip = 0
	vm.steps = 0
	vm.Stack.Reset()
}
