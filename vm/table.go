package vm

import (
	"encoding/binary"
	"fmt"
)

// handler executes the instruction that starts at ip and returns the
// instruction pointer to resume at.
type handler func(vm *VM, ip int) (int, error)

// Table maps every opcode byte to its handler. A Table is built once by
// NewTable and only read afterwards, so VMs may share one.
type Table [256]handler

func NewTable() *Table {
	t := &Table{}
	for i := range t {
		t[i] = noOp
	}

	t[InstructionPushChar] = pushChar
	t[InstructionPushInt] = pushInt
	t[InstructionEmit] = emit
	t[InstructionAdd] = binaryOp(add)
	t[InstructionSub] = binaryOp(sub)
	t[InstructionMul] = binaryOp(mul)
	t[InstructionMod] = binaryOp(mod)
	t[InstructionDiv] = binaryOp(div)
	t[InstructionDup] = dup
	t[InstructionJump] = jump
	t[InstructionJumpIfZero] = jumpIf(func(v Value) bool { return uint32(v.Int32()) == 0 })
	t[InstructionJumpIfNotZero] = jumpIf(func(v Value) bool { return uint32(v.Int32()) != 0 })
	return t
}

// noOp is the handler for every unmapped byte: skip it.
func noOp(_ *VM, ip int) (int, error) {
	return ip + 1, nil
}

func pushChar(vm *VM, ip int) (int, error) {
	operand, err := vm.operands(ip, 1)
	if err != nil {
		return ip, err
	}
	return ip + 2, vm.Stack.Push(Char(operand[0]))
}

func pushInt(vm *VM, ip int) (int, error) {
	operand, err := vm.operands(ip, 4)
	if err != nil {
		return ip, err
	}
	return ip + 5, vm.Stack.Push(Int(int32(binary.LittleEndian.Uint32(operand))))
}

func emit(vm *VM, ip int) (int, error) {
	v, err := vm.Stack.Pop()
	if err != nil {
		return ip, err
	}
	if _, err := vm.out.Write([]byte{v.Byte()}); err != nil {
		return ip, fmt.Errorf("emit: %w", err)
	}
	return ip + 1, nil
}

func dup(vm *VM, ip int) (int, error) {
	v, err := vm.Stack.Peek()
	if err != nil {
		return ip, err
	}
	return ip + 1, vm.Stack.Push(v)
}

type arithmetic func(op1, op2 int32) (int32, error)

// binaryOp pops op1 (the top of the stack) and then op2, and pushes
// op1 OP op2. The most recently pushed value is the left operand.
func binaryOp(fn arithmetic) handler {
	return func(vm *VM, ip int) (int, error) {
		op1, err := vm.Stack.Pop()
		if err != nil {
			return ip, err
		}
		op2, err := vm.Stack.Pop()
		if err != nil {
			return ip, err
		}
		result, err := fn(op1.Int32(), op2.Int32())
		if err != nil {
			return ip, err
		}
		return ip + 1, vm.Stack.Push(Int(result))
	}
}

func add(op1, op2 int32) (int32, error) { return op1 + op2, nil }
func sub(op1, op2 int32) (int32, error) { return op1 - op2, nil }
func mul(op1, op2 int32) (int32, error) { return op1 * op2, nil }

func div(op1, op2 int32) (int32, error) {
	if op2 == 0 {
		return 0, ErrDivisionByZero
	}
	return op1 / op2, nil
}

func mod(op1, op2 int32) (int32, error) {
	if op2 == 0 {
		return 0, ErrDivisionByZero
	}
	return op1 % op2, nil
}

func jump(vm *VM, ip int) (int, error) {
	return vm.jumpTarget(ip)
}

func jumpIf(cond func(Value) bool) handler {
	return func(vm *VM, ip int) (int, error) {
		v, err := vm.Stack.Pop()
		if err != nil {
			return ip, err
		}
		if cond(v) {
			return vm.jumpTarget(ip)
		}
		// the offset still has to be present even when the branch is not taken
		if _, err := vm.operands(ip, 4); err != nil {
			return ip, err
		}
		return ip + 5, nil
	}
}

// jumpTarget decodes the offset of the jump at ip. Offsets are relative to
// the jump instruction itself.
func (vm *VM) jumpTarget(ip int) (int, error) {
	operand, err := vm.operands(ip, 4)
	if err != nil {
		return ip, err
	}
	offset := int32(binary.LittleEndian.Uint32(operand))
	target := ip + int(offset)
	if target < 0 || target >= len(vm.data) {
		return ip, fmt.Errorf("offset %d to %d, program length %d: %w",
			offset, target, len(vm.data), ErrOutOfBoundsJump)
	}
	return target, nil
}

// operands returns the n immediate bytes following the opcode at ip.
func (vm *VM) operands(ip, n int) ([]byte, error) {
	start := ip + 1
	if start+n > len(vm.data) {
		return nil, fmt.Errorf("need %d operand bytes at %d, program length %d: %w",
			n, start, len(vm.data), ErrTruncatedInstruction)
	}
	return vm.data[start : start+n], nil
}
