package vm

import "fmt"

// DefaultStackSize is the number of slots preallocated for a new Stack.
const DefaultStackSize = 1024

// Stack is the fixed capacity operand stack. It is owned by a single VM
// for the duration of a run and is not safe for concurrent use.
type Stack struct {
	data []Value
	// ptr is the next write slot, one ahead of the top value
	ptr int

	depth int
}

type StackOpt func(*Stack) *Stack

func MaxStack(max int) StackOpt {
	return func(s *Stack) *Stack {
		s.depth = max
		return s
	}
}

func NewStack(opts ...StackOpt) *Stack {
	s := &Stack{
		ptr:   0,
		depth: DefaultStackSize,
	}
	for _, opt := range opts {
		s = opt(s)
	}
	if s.depth < 0 {
		s.depth = 0
	}
	s.data = make([]Value, s.depth)
	return s
}

func (s *Stack) Push(v Value) error {
	if s.ptr == s.depth {
		return fmt.Errorf("push %s at depth %d: %w", v, s.depth, ErrStackOverflow)
	}
	s.data[s.ptr] = v
	s.ptr += 1
	return nil
}

func (s *Stack) Pop() (Value, error) {
	if s.Empty() {
		return nil, fmt.Errorf("pop: %w", ErrStackUnderflow)
	}
	s.ptr -= 1
	v := s.data[s.ptr]
	s.data[s.ptr] = nil
	return v, nil
}

func (s *Stack) Peek() (Value, error) {
	if s.Empty() {
		return nil, fmt.Errorf("peek: %w", ErrStackUnderflow)
	}
	return s.data[s.ptr-1], nil
}

func (s *Stack) Empty() bool {
	return s.ptr == 0
}

func (s *Stack) Len() int {
	return s.ptr
}

func (s *Stack) Cap() int {
	return s.depth
}

// Values returns a copy of the live values, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, s.ptr)
	copy(out, s.data[:s.ptr])
	return out
}

// Reset drops every value so the stack can serve another run.
func (s *Stack) Reset() {
	for i := 0; i < s.ptr; i++ {
		s.data[i] = nil
	}
	s.ptr = 0
}
