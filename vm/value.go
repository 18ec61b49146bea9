package vm

import "fmt"

// Tag identifies how a stack value is interpreted. Tags are the ASCII
// opcode characters that produce them.
type Tag byte

const (
	TagChar Tag = 'c'
	TagInt  Tag = 's'
)

func (t Tag) String() string {
	switch t {
	case TagChar:
		return "char"
	case TagInt:
		return "int"
	default:
		return "unknown"
	}
}

// Value is a tagged stack value. The only implementations are Char and Int,
// so every value on the stack carries exactly one valid payload.
type Value interface {
	Tag() Tag
	String() string

	// Byte is the low byte of the payload, as written by emit.
	Byte() byte
	// Int32 widens the payload to a signed 32 bit integer.
	Int32() int32

	value()
}

// Char is an 8 bit character payload.
type Char byte

func (c Char) Tag() Tag       { return TagChar }
func (c Char) Byte() byte     { return byte(c) }
func (c Char) Int32() int32   { return int32(c) }
func (c Char) String() string { return fmt.Sprintf("char(%q)", rune(c)) }
func (Char) value()           {}

// Int is a signed 32 bit payload.
type Int int32

func (i Int) Tag() Tag       { return TagInt }
func (i Int) Byte() byte     { return byte(i) }
func (i Int) Int32() int32   { return int32(i) }
func (i Int) String() string { return fmt.Sprintf("int(%d)", int32(i)) }
func (Int) value()           {}
