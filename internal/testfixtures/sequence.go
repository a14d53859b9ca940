package testfixtures

import (
	"fmt"
	"sync"
)

// Sequence produces deterministic identifiers ("req-1", "req-2", ...) and
// remembers every value it handed out.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	issued []string
}

// NewSequence returns a sequence using prefix, or "id" when empty.
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "id"
	}
	return &Sequence{prefix: prefix}
}

// Next returns the next identifier.
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("%s-%d", s.prefix, len(s.issued)+1)
	s.issued = append(s.issued, id)
	return id
}

// Issued returns a copy of every identifier produced so far.
func (s *Sequence) Issued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.issued...)
}
