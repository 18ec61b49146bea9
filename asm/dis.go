package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/krehermann/bytevm/vm"
)

// Instruction is one decoded entry of a disassembly.
type Instruction struct {
	Offset int
	Op     vm.Instruction
	// Operand is the immediate value: the pushed byte or int, or the jump
	// offset. Only meaningful when the instruction has operand bytes.
	Operand int32
	// Target is the absolute address of a jump.
	Target int
}

// String renders the instruction in assembler syntax, so that assembling the
// output of Disassemble reproduces the original bytes.
func (i Instruction) String() string {
	switch {
	case !i.Op.Known():
		return fmt.Sprintf("%s %d", directiveByte, byte(i.Op))
	case i.Op == vm.InstructionPushChar:
		return fmt.Sprintf("%s %s", i.Op.Mnemonic(), charLiteral(byte(i.Operand)))
	case i.Op == vm.InstructionPushInt, i.Op.IsJump():
		return fmt.Sprintf("%s %d", i.Op.Mnemonic(), i.Operand)
	default:
		return i.Op.Mnemonic()
	}
}

func charLiteral(c byte) string {
	if c >= 0x20 && c < 0x7f {
		return strconv.QuoteRune(rune(c))
	}
	return strconv.Itoa(int(c))
}

// Disassemble decodes the whole buffer with a linear sweep. Bytes after a
// halt are decoded too, since jumps may reach them.
func Disassemble(code []byte) ([]Instruction, error) {
	var out []Instruction
	for offset := 0; offset < len(code); {
		inst := Instruction{
			Offset: offset,
			Op:     vm.Instruction(code[offset]),
		}
		size := inst.Op.Size()
		if offset+size > len(code) {
			return out, fmt.Errorf("%s at %d needs %d bytes, %d left: %w",
				inst.Op, offset, size, len(code)-offset, vm.ErrTruncatedInstruction)
		}

		switch size {
		case 2:
			inst.Operand = int32(code[offset+1])
		case 5:
			inst.Operand = int32(binary.LittleEndian.Uint32(code[offset+1:]))
		}
		if inst.Op.IsJump() {
			inst.Target = offset + int(inst.Operand)
		}

		out = append(out, inst)
		offset += size
	}
	return out, nil
}

// Format renders the disassembly as assembly text.
func Format(instructions []Instruction) string {
	var sb strings.Builder
	for _, inst := range instructions {
		sb.WriteString(inst.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Fprint writes an aligned listing of code to w: offset, raw bytes,
// instruction and, for jumps, the absolute target.
func Fprint(w io.Writer, code []byte, colorize bool) error {
	instructions, disErr := Disassemble(code)

	name := fmt.Sprint
	addr := fmt.Sprint
	if colorize {
		name = color.New(color.FgCyan, color.Bold).Sprint
		addr = color.New(color.FgYellow).Sprint
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, inst := range instructions {
		raw := code[inst.Offset : inst.Offset+inst.Op.Size()]
		annotation := ""
		if inst.Op.IsJump() {
			annotation = fmt.Sprintf("; -> %s", addr(fmt.Sprintf("%04d", inst.Target)))
		}
		fmt.Fprintf(tw, "%s\t% x\t%s\t%s\n",
			addr(fmt.Sprintf("%04d", inst.Offset)), raw, name(inst.String()), annotation)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return disErr
}
