package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/krehermann/bytevm/vm"
)

// Builder assembles a program instruction by instruction. Jumps may refer to
// labels defined before or after them; they are resolved by Build.
type Builder struct {
	code   []byte
	labels map[string]int
	fixups []fixup
	err    *multierror.Error
}

type fixup struct {
	// address of the jump instruction
	at    int
	label string
}

func New() *Builder {
	return &Builder{
		labels: make(map[string]int),
	}
}

// Len is the address the next instruction will be written at.
func (b *Builder) Len() int {
	return len(b.code)
}

func (b *Builder) op(inst vm.Instruction) *Builder {
	b.code = append(b.code, byte(inst))
	return b
}

func (b *Builder) op32(inst vm.Instruction, n int32) *Builder {
	b.code = append(b.code, byte(inst), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(b.code[len(b.code)-4:], uint32(n))
	return b
}

func (b *Builder) PushChar(c byte) *Builder {
	b.code = append(b.code, byte(vm.InstructionPushChar), c)
	return b
}

func (b *Builder) PushInt(n int32) *Builder { return b.op32(vm.InstructionPushInt, n) }
func (b *Builder) Emit() *Builder           { return b.op(vm.InstructionEmit) }
func (b *Builder) Add() *Builder            { return b.op(vm.InstructionAdd) }
func (b *Builder) Sub() *Builder            { return b.op(vm.InstructionSub) }
func (b *Builder) Mul() *Builder            { return b.op(vm.InstructionMul) }
func (b *Builder) Mod() *Builder            { return b.op(vm.InstructionMod) }
func (b *Builder) Div() *Builder            { return b.op(vm.InstructionDiv) }
func (b *Builder) Dup() *Builder            { return b.op(vm.InstructionDup) }
func (b *Builder) Halt() *Builder           { return b.op(vm.InstructionHalt) }

// Jump emits an unconditional jump by offset bytes, relative to the jump
// itself.
func (b *Builder) Jump(offset int32) *Builder { return b.op32(vm.InstructionJump, offset) }

func (b *Builder) JumpIfZero(offset int32) *Builder {
	return b.op32(vm.InstructionJumpIfZero, offset)
}

func (b *Builder) JumpIfNotZero(offset int32) *Builder {
	return b.op32(vm.InstructionJumpIfNotZero, offset)
}

func (b *Builder) JumpTo(label string) *Builder {
	return b.jumpTo(vm.InstructionJump, label)
}

func (b *Builder) JumpIfZeroTo(label string) *Builder {
	return b.jumpTo(vm.InstructionJumpIfZero, label)
}

func (b *Builder) JumpIfNotZeroTo(label string) *Builder {
	return b.jumpTo(vm.InstructionJumpIfNotZero, label)
}

func (b *Builder) jumpTo(inst vm.Instruction, label string) *Builder {
	b.fixups = append(b.fixups, fixup{at: len(b.code), label: label})
	return b.op32(inst, 0)
}

// Raw appends bytes verbatim, e.g. an unmapped opcode.
func (b *Builder) Raw(p ...byte) *Builder {
	b.code = append(b.code, p...)
	return b
}

// Label names the current address.
func (b *Builder) Label(name string) *Builder {
	if _, exists := b.labels[name]; exists {
		b.err = multierror.Append(b.err, fmt.Errorf("label %q already defined", name))
		return b
	}
	b.labels[name] = len(b.code)
	return b
}

// Build resolves label jumps and returns the program. The returned slice is
// a copy; the builder may keep growing.
func (b *Builder) Build() ([]byte, error) {
	result := b.err
	out := make([]byte, len(b.code))
	copy(out, b.code)

	for _, f := range b.fixups {
		addr, ok := b.labels[f.label]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("undefined label %q at %d", f.label, f.at))
			continue
		}
		binary.LittleEndian.PutUint32(out[f.at+1:], uint32(int32(addr-f.at)))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Bytes is Build for programs known to be well formed. It panics on error.
func (b *Builder) Bytes() []byte {
	out, err := b.Build()
	if err != nil {
		panic(err)
	}
	return out
}
