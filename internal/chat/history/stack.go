// Package history keeps the latest chat lines to greet newly joined participants.
package history

import (
	"fmt"
	"sync"
)

// Stack - accumulates a limited number of lines in a ring.
// When the stack is full, every push drops the oldest line.
type Stack struct {
	mu    sync.RWMutex
	data  []string
	start int
	size  int
}

// NewStack - builds history stack for max lines.
func NewStack(max int) (*Stack, error) {
	if max <= 0 {
		return nil, fmt.Errorf("history.NewStack: max (%d) must be greater than 0", max)
	}
	return &Stack{data: make([]string, max)}, nil
}

// Len - returns number of lines currently kept.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Push - adds line to history.
func (s *Stack) Push(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size < len(s.data) {
		s.data[(s.start+s.size)%len(s.data)] = line
		s.size++
		return
	}
	s.data[s.start] = line
	s.start = (s.start + 1) % len(s.data)
}

// Tail - makes copy of last n lines. The first line in result is the oldest.
// Negative n is treated as its absolute value.
func (s *Stack) Tail(n int) []string {
	if n < 0 {
		n = -n
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > s.size {
		n = s.size
	}
	tail := make([]string, n)
	from := s.start + s.size - n
	for i := range tail {
		tail[i] = s.data[(from+i)%len(s.data)]
	}
	return tail
}
