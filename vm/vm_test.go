package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// helpers to spell out programs byte by byte

func encPushInt(n int32) []byte {
	b := []byte{byte(InstructionPushInt), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], uint32(n))
	return b
}

func jumpOp(inst Instruction, offset int32) []byte {
	b := []byte{byte(inst), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], uint32(offset))
	return b
}

func program(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch p := p.(type) {
		case Instruction:
			out = append(out, byte(p))
		case byte:
			out = append(out, p)
		case []byte:
			out = append(out, p...)
		default:
			panic("unsupported program part")
		}
	}
	return out
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestVM_Run(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		opts     []VMOpt
		wantOut  []byte
		wantErr  error
		wantKind string
		wantIP   int
		check    func(*testing.T, *VM)
	}{
		{
			name: "add 5 + 3",
			data: program(encPushInt(5), encPushInt(3),
				InstructionAdd, InstructionEmit, InstructionHalt),
			wantOut: []byte{8},
		},
		{
			name: "sub pops minuend first",
			data: program(encPushInt(10), encPushInt(3),
				InstructionSub, InstructionEmit, InstructionHalt),
			// 3 - 10
			wantOut: []byte{0xF9},
		},
		{
			name: "dup char",
			data: program(InstructionPushChar, byte('A'),
				InstructionDup, InstructionEmit, InstructionEmit, InstructionHalt),
			wantOut: []byte("AA"),
		},
		{
			name: "mul wraps",
			data: program(encPushInt(0x7FFFFFFF), encPushInt(2),
				InstructionMul, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(-2)}, vm.Stack.Values())
			},
		},
		{
			name: "add wraps",
			data: program(encPushInt(0x7FFFFFFF), encPushInt(1),
				InstructionAdd, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(-2147483648)}, vm.Stack.Values())
			},
		},
		{
			name: "div truncates toward zero",
			data: program(encPushInt(2), encPushInt(-7),
				InstructionDiv, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(-3)}, vm.Stack.Values())
			},
		},
		{
			name: "mod keeps sign of dividend",
			data: program(encPushInt(2), encPushInt(-7),
				InstructionMod, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(-1)}, vm.Stack.Values())
			},
		},
		{
			name: "min int div minus one",
			data: program(encPushInt(-1), encPushInt(-2147483648),
				InstructionDiv, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(-2147483648)}, vm.Stack.Values())
			},
		},
		{
			name: "arithmetic on chars yields int",
			data: program(InstructionPushChar, byte(1), InstructionPushChar, byte('a'),
				InstructionAdd, InstructionHalt),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int('b')}, vm.Stack.Values())
			},
		},
		{
			name:    "emit int low byte",
			data:    program(encPushInt(0x141), InstructionEmit, InstructionHalt),
			wantOut: []byte("A"),
		},
		{
			name: "countdown loop",
			data: program(
				encPushInt(3),                     // 0
				InstructionDup,                    // 5
				jumpOp(InstructionJumpIfZero, 19), // 6 -> 25
				InstructionPushChar, byte('x'),    // 11
				InstructionEmit,                   // 13
				encPushInt(-1),                    // 14
				InstructionAdd,                    // 19
				jumpOp(InstructionJump, -15),      // 20 -> 5
				InstructionHalt,                   // 25
			),
			wantOut: []byte("xxx"),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, []Value{Int(0)}, vm.Stack.Values())
				assert.Equal(t, 25, vm.IP())
			},
		},
		{
			name: "jnz taken",
			data: program(
				InstructionPushChar, byte(1),         // 0
				jumpOp(InstructionJumpIfNotZero, 10), // 2 -> 12
				InstructionPushChar, byte('n'),       // 7
				InstructionEmit,                      // 9
				InstructionHalt,                      // 10
				byte(0),                              // 11
				InstructionPushChar, byte('y'),       // 12
				InstructionEmit,                      // 14
				InstructionHalt,                      // 15
			),
			wantOut: []byte("y"),
		},
		{
			name: "jnz not taken",
			data: program(
				encPushInt(0),                        // 0
				jumpOp(InstructionJumpIfNotZero, 10), // 5 -> 15
				InstructionPushChar, byte('n'),       // 10
				InstructionEmit,                      // 12
				InstructionHalt,                      // 13
			),
			wantOut: []byte("n"),
		},
		{
			name: "jz on zero char",
			data: program(
				InstructionPushChar, byte(0),     // 0
				jumpOp(InstructionJumpIfZero, 8), // 2 -> 10
				byte(0), byte(0), byte(0),        // 7
				InstructionHalt,                  // 10
			),
			check: func(t *testing.T, vm *VM) {
				assert.True(t, vm.Stack.Empty())
				assert.Equal(t, 10, vm.IP())
				assert.Equal(t, 2, vm.Steps())
			},
		},
		{
			name: "unknown opcodes are skipped",
			data: program(byte('x'), byte(0), byte(0xFF),
				InstructionPushChar, byte('A'), InstructionEmit, InstructionHalt),
			wantOut: []byte("A"),
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, 5, vm.Steps())
			},
		},
		{
			name:    "halt only",
			data:    program(InstructionHalt, InstructionEmit),
			wantOut: nil,
		},
		{
			name: "div by zero",
			data: program(InstructionPushChar, byte('a'), InstructionEmit,
				encPushInt(0), encPushInt(7), InstructionMod,
				InstructionPushChar, byte('b'), InstructionEmit, InstructionHalt),
			wantOut:  []byte("a"),
			wantErr:  ErrDivisionByZero,
			wantKind: "division_by_zero",
			wantIP:   13,
		},
		{
			name:     "div by zero div",
			data:     program(encPushInt(0), encPushInt(1), InstructionDiv, InstructionHalt),
			wantErr:  ErrDivisionByZero,
			wantKind: "division_by_zero",
			wantIP:   10,
		},
		{
			name:     "jump past end",
			data:     program(jumpOp(InstructionJump, 100), InstructionHalt),
			wantErr:  ErrOutOfBoundsJump,
			wantKind: "out_of_bounds_jump",
			wantIP:   0,
		},
		{
			name:     "negative jump out of bounds",
			data:     program(byte(0), jumpOp(InstructionJump, -2), InstructionHalt),
			wantErr:  ErrOutOfBoundsJump,
			wantKind: "out_of_bounds_jump",
			wantIP:   1,
		},
		{
			name:     "jump to buffer length",
			data:     program(jumpOp(InstructionJump, 6), InstructionHalt),
			wantErr:  ErrOutOfBoundsJump,
			wantKind: "out_of_bounds_jump",
		},
		{
			name:     "truncated push int",
			data:     program(InstructionPushInt, byte(1), byte(2)),
			wantErr:  ErrTruncatedInstruction,
			wantKind: "truncated_instruction",
		},
		{
			name:     "truncated push char",
			data:     program(InstructionPushChar),
			wantErr:  ErrTruncatedInstruction,
			wantKind: "truncated_instruction",
		},
		{
			name: "truncated jz not taken",
			data: program(InstructionPushChar, byte(1),
				InstructionJumpIfZero, byte(0)),
			wantErr:  ErrTruncatedInstruction,
			wantKind: "truncated_instruction",
			wantIP:   2,
		},
		{
			name:     "missing halt",
			data:     program(InstructionPushChar, byte('A'), InstructionEmit),
			wantOut:  []byte("A"),
			wantErr:  ErrMissingHalt,
			wantKind: "missing_halt",
			wantIP:   3,
		},
		{
			name:     "empty program",
			data:     nil,
			wantErr:  ErrMissingHalt,
			wantKind: "missing_halt",
		},
		{
			name:     "underflow",
			data:     program(InstructionEmit, InstructionHalt),
			wantErr:  ErrStackUnderflow,
			wantKind: "stack_underflow",
		},
		{
			name:     "binary op underflow",
			data:     program(encPushInt(1), InstructionAdd, InstructionHalt),
			wantErr:  ErrStackUnderflow,
			wantKind: "stack_underflow",
			wantIP:   5,
		},
		{
			name:     "dup underflow",
			data:     program(InstructionDup, InstructionHalt),
			wantErr:  ErrStackUnderflow,
			wantKind: "stack_underflow",
		},
		{
			name: "overflow",
			data: program(InstructionPushChar, byte('A'),
				InstructionPushChar, byte('B'), InstructionHalt),
			opts:     []VMOpt{StackSizeOpt(1)},
			wantErr:  ErrStackOverflow,
			wantKind: "stack_overflow",
			wantIP:   2,
		},
		{
			name:     "jump zero re-executes itself",
			data:     program(encPushInt(0), jumpOp(InstructionJump, 0), InstructionHalt),
			opts:     []VMOpt{StepLimitOpt(10)},
			wantErr:  ErrStepLimit,
			wantKind: "step_limit",
			wantIP:   5,
			check: func(t *testing.T, vm *VM) {
				assert.Equal(t, 10, vm.Steps())
				assert.Equal(t, []Value{Int(0)}, vm.Stack.Values())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			opts := append([]VMOpt{
				LoggerOpt(zaptest.NewLogger(t)),
				OutputOpt(out),
			}, tt.opts...)
			vm := NewVM(tt.data, opts...)

			err := vm.Run(context.Background())
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
				var f *Fault
				require.True(t, errors.As(err, &f))
				assert.Equal(t, tt.wantKind, f.Kind())
				assert.Equal(t, tt.wantIP, f.IP)
				assert.Equal(t, tt.wantIP, vm.IP())
			}
			assert.Equal(t, tt.wantOut, out.Bytes())
			if tt.check != nil {
				tt.check(t, vm)
			}
		})
	}
}

func TestVM_FaultOp(t *testing.T) {
	vm := NewVM(program(encPushInt(0), encPushInt(1), InstructionDiv),
		OutputOpt(&bytes.Buffer{}))
	err := vm.Run(context.Background())

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, InstructionDiv, f.Op)
	assert.Contains(t, err.Error(), "ip 10 (DIV): division by zero")
}

func TestVM_MissingHaltLocation(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantHasOp bool
		wantMsg   string
	}{
		{
			name:    "empty program names no instruction",
			data:    nil,
			wantMsg: "ip 0: program ended without halt",
		},
		{
			name:      "last dispatched instruction",
			data:      program(InstructionPushChar, byte('A'), InstructionEmit),
			wantHasOp: true,
			wantMsg:   "ip 3 (EMIT): program ended without halt",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := NewVM(tt.data, OutputOpt(&bytes.Buffer{}))
			err := vm.Run(context.Background())

			var f *Fault
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.wantHasOp, f.HasOp())
			assert.Contains(t, err.Error(), tt.wantMsg)
			if !tt.wantHasOp {
				assert.NotContains(t, err.Error(), "HALT")
			}
		})
	}
}

func TestVM_DupPopPop(t *testing.T) {
	vm := NewVM(program(encPushInt(-42), InstructionDup, InstructionHalt),
		OutputOpt(&bytes.Buffer{}))
	require.NoError(t, vm.Run(context.Background()))

	first, err := vm.Stack.Pop()
	require.NoError(t, err)
	second, err := vm.Stack.Pop()
	require.NoError(t, err)
	assert.Equal(t, Int(-42), first)
	assert.Equal(t, first, second)
}

func TestVM_WriteError(t *testing.T) {
	vm := NewVM(program(InstructionPushChar, byte('A'), InstructionEmit, InstructionHalt),
		OutputOpt(failWriter{}))
	err := vm.Run(context.Background())

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "io", f.Kind())
	assert.Equal(t, 2, f.IP)
}

func TestVM_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// jumps to itself forever
	vm := NewVM(jumpOp(InstructionJump, 0), CheckIntervalOpt(1))
	err := vm.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "canceled", f.Kind())
}

func TestVM_Reset(t *testing.T) {
	out := &bytes.Buffer{}
	vm := NewVM(program(InstructionPushChar, byte('z'), InstructionDup, InstructionEmit, InstructionHalt),
		OutputOpt(out))

	require.NoError(t, vm.Run(context.Background()))
	assert.Equal(t, 1, vm.Stack.Len())

	vm.Reset()
	assert.Equal(t, 0, vm.IP())
	assert.Equal(t, 0, vm.Steps())
	require.NoError(t, vm.Run(context.Background()))
	assert.Equal(t, "zz", out.String())
	assert.Equal(t, 1, vm.Stack.Len())
}

func TestVM_SharedTable(t *testing.T) {
	table := NewTable()
	n := 16

	var wg sync.WaitGroup
	outs := make([]*bytes.Buffer, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		outs[i] = &bytes.Buffer{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := program(encPushInt(int32('a'+i)), InstructionEmit, InstructionHalt)
			errs[i] = NewVM(code, TableOpt(table), OutputOpt(outs[i])).Run(context.Background())
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, string(rune('a'+i)), outs[i].String())
	}
}

func TestTable_Total(t *testing.T) {
	table := NewTable()
	vm := NewVM(nil)
	for b := 0; b < 256; b++ {
		assert.NotNil(t, table[b], "opcode %d", b)
		if Instruction(b).Known() {
			continue
		}
		next, err := table[b](vm, 7)
		assert.NoError(t, err)
		assert.Equal(t, 8, next)
	}
}

func TestInstruction(t *testing.T) {
	assert.Equal(t, "PUSH_INT", InstructionPushInt.String())
	assert.Equal(t, "NOP", Instruction('q').String())
	assert.Equal(t, "jnz", InstructionJumpIfNotZero.Mnemonic())
	assert.Equal(t, 5, InstructionJump.Size())
	assert.Equal(t, 2, InstructionPushChar.Size())
	assert.Equal(t, 1, Instruction(0).Size())
	assert.True(t, InstructionJumpIfZero.IsJump())
	assert.False(t, InstructionAdd.IsJump())

	op, ok := LookupMnemonic("mod")
	assert.True(t, ok)
	assert.Equal(t, InstructionMod, op)
	_, ok = LookupMnemonic("nop")
	assert.False(t, ok)
}
