package vm

type Instruction byte

const (
	InstructionPushChar      Instruction = 'c'
	InstructionPushInt       Instruction = 'i'
	InstructionEmit          Instruction = 'e'
	InstructionAdd           Instruction = 'a'
	InstructionSub           Instruction = 's'
	InstructionMul           Instruction = 'm'
	InstructionMod           Instruction = 'M'
	InstructionDiv           Instruction = 'd'
	InstructionDup           Instruction = 'D'
	InstructionJump          Instruction = 'j'
	InstructionJumpIfZero    Instruction = 'z'
	InstructionJumpIfNotZero Instruction = 'Z'
	// halt is checked by the run loop before dispatch and never reaches the
	// instruction table
	InstructionHalt Instruction = 'h'
)

type instructionInfo struct {
	name     string
	mnemonic string
	// encoded length including the opcode byte
	size int
}

var instructionInfos = map[Instruction]instructionInfo{
	InstructionPushChar:      {"PUSH_CHAR", "pushc", 2},
	InstructionPushInt:       {"PUSH_INT", "pushi", 5},
	InstructionEmit:          {"EMIT", "emit", 1},
	InstructionAdd:           {"ADD", "add", 1},
	InstructionSub:           {"SUB", "sub", 1},
	InstructionMul:           {"MUL", "mul", 1},
	InstructionMod:           {"MOD", "mod", 1},
	InstructionDiv:           {"DIV", "div", 1},
	InstructionDup:           {"DUP", "dup", 1},
	InstructionJump:          {"JUMP", "jmp", 5},
	InstructionJumpIfZero:    {"JUMP_IF_ZERO", "jz", 5},
	InstructionJumpIfNotZero: {"JUMP_IF_NOT_ZERO", "jnz", 5},
	InstructionHalt:          {"HALT", "halt", 1},
}

// Instructions lists every mapped opcode, halt included.
var Instructions = []Instruction{
	InstructionPushChar,
	InstructionPushInt,
	InstructionEmit,
	InstructionAdd,
	InstructionSub,
	InstructionMul,
	InstructionMod,
	InstructionDiv,
	InstructionDup,
	InstructionJump,
	InstructionJumpIfZero,
	InstructionJumpIfNotZero,
	InstructionHalt,
}

// Known reports whether the byte is a mapped opcode. Unknown bytes execute
// as no-ops.
func (i Instruction) Known() bool {
	_, ok := instructionInfos[i]
	return ok
}

func (i Instruction) String() string {
	if info, ok := instructionInfos[i]; ok {
		return info.name
	}
	return "NOP"
}

// Mnemonic is the assembler spelling of the instruction.
func (i Instruction) Mnemonic() string {
	if info, ok := instructionInfos[i]; ok {
		return info.mnemonic
	}
	return "nop"
}

// Size is the encoded length of the instruction, opcode byte included.
func (i Instruction) Size() int {
	if info, ok := instructionInfos[i]; ok {
		return info.size
	}
	return 1
}

// IsJump reports whether the instruction carries a relative jump offset.
func (i Instruction) IsJump() bool {
	switch i {
	case InstructionJump, InstructionJumpIfZero, InstructionJumpIfNotZero:
		return true
	}
	return false
}

// LookupMnemonic maps an assembler mnemonic back to its instruction.
func LookupMnemonic(m string) (Instruction, bool) {
	for op, info := range instructionInfos {
		if info.mnemonic == m {
			return op, true
		}
	}
	return 0, false
}
