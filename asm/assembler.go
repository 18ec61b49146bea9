// Package asm converts between bytecode and a line oriented assembly text.
//
// Each line holds at most one instruction, optionally preceded by a label:
//
//	loop:   dup
//	        jz done      ; jump targets may be labels or signed offsets
//	        pushc 'x'
//	        emit
//	        pushi -1
//	        add
//	        jmp loop
//	done:   halt
//
// Comments start with ';' or '#'. The raw directive "byte N" emits a single
// byte, which is how unmapped opcodes are written.
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/krehermann/bytevm/vm"
)

const directiveByte = "byte"

type line struct {
	no       int
	label    string
	mnemonic string
	arg      string
}

// Assemble translates assembly text to bytecode. Every malformed line is
// reported; the returned error is a *multierror.Error.
func Assemble(src string) ([]byte, error) {
	var result *multierror.Error
	lineErr := func(no int, err error) {
		result = multierror.Append(result, fmt.Errorf("line %d: %w", no, err))
	}

	b := New()
	defined := make(map[string]int)
	type reference struct {
		no    int
		label string
	}
	var refs []reference

	for _, l := range parse(src) {
		if l.label != "" {
			if prev, exists := defined[l.label]; exists {
				lineErr(l.no, fmt.Errorf("label %q already defined on line %d", l.label, prev))
			} else {
				defined[l.label] = l.no
				b.Label(l.label)
			}
		}
		if l.mnemonic == "" {
			continue
		}

		if l.mnemonic == directiveByte {
			n, err := parseUint8(l.arg)
			if err != nil {
				lineErr(l.no, err)
				continue
			}
			b.Raw(n)
			continue
		}

		inst, ok := vm.LookupMnemonic(l.mnemonic)
		if !ok {
			lineErr(l.no, fmt.Errorf("unknown mnemonic %q", l.mnemonic))
			continue
		}

		switch {
		case inst == vm.InstructionPushChar:
			c, err := parseChar(l.arg)
			if err != nil {
				lineErr(l.no, err)
				continue
			}
			b.PushChar(c)

		case inst == vm.InstructionPushInt:
			n, err := parseInt32(l.arg)
			if err != nil {
				lineErr(l.no, err)
				continue
			}
			b.PushInt(n)

		case inst.IsJump():
			if l.arg == "" {
				lineErr(l.no, errors.New("missing jump target"))
				continue
			}
			if n, err := parseInt32(l.arg); err == nil {
				b.op32(inst, n)
				continue
			}
			if !isIdent(l.arg) {
				lineErr(l.no, fmt.Errorf("invalid jump target %q", l.arg))
				continue
			}
			refs = append(refs, reference{no: l.no, label: l.arg})
			b.jumpTo(inst, l.arg)

		default:
			if l.arg != "" {
				lineErr(l.no, fmt.Errorf("%s takes no operand", l.mnemonic))
				continue
			}
			b.op(inst)
		}
	}

	for _, r := range refs {
		if _, ok := defined[r.label]; !ok {
			lineErr(r.no, fmt.Errorf("undefined label %q", r.label))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return b.Build()
}

func parse(src string) []line {
	var out []line
	for i, text := range strings.Split(src, "\n") {
		l := line{no: i + 1}
		text = strings.TrimSpace(stripComment(text))
		if text == "" {
			continue
		}

		if head, rest, ok := strings.Cut(text, ":"); ok && isIdent(strings.TrimSpace(head)) {
			l.label = strings.TrimSpace(head)
			text = strings.TrimSpace(rest)
		}

		mnemonic, arg := text, ""
		if sep := strings.IndexAny(text, " \t"); sep >= 0 {
			mnemonic, arg = text[:sep], text[sep+1:]
		}
		l.mnemonic = strings.ToLower(mnemonic)
		l.arg = strings.TrimSpace(arg)
		out = append(out, l)
	}
	return out
}

// stripComment cuts the line at the first comment marker that is not inside
// a character literal.
func stripComment(s string) string {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '\'':
			quoted = !quoted
		case ';', '#':
			if !quoted {
				return s[:i]
			}
		}
	}
	return s
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func parseChar(arg string) (byte, error) {
	if !strings.HasPrefix(arg, "'") {
		return parseUint8(arg)
	}
	if len(arg) < 3 || !strings.HasSuffix(arg, "'") {
		return 0, fmt.Errorf("invalid character literal %s", arg)
	}
	v, _, tail, err := strconv.UnquoteChar(arg[1:len(arg)-1], '\'')
	if err != nil || tail != "" {
		return 0, fmt.Errorf("invalid character literal %s", arg)
	}
	if v > 0xFF {
		return 0, fmt.Errorf("character literal %s does not fit in a byte", arg)
	}
	return byte(v), nil
}

func parseUint8(arg string) (byte, error) {
	n, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %w", arg, errors.Unwrap(err))
	}
	return byte(n), nil
}

func parseInt32(arg string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(arg, "+"), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid int32 %q: %w", arg, errors.Unwrap(err))
	}
	return int32(n), nil
}
