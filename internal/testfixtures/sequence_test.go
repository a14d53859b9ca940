package testfixtures

import "testing"

func TestSequenceProducesSequentialIDs(t *testing.T) {
	seq := NewSequence("req")

	first := seq.Next()
	second := seq.Next()

	if first != "req-1" || second != "req-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	issued := seq.Issued()
	if len(issued) != 2 || issued[1] != "req-2" {
		t.Fatalf("unexpected issued list: %v", issued)
	}
}

func TestSequenceDefaultPrefix(t *testing.T) {
	if got := NewSequence("").Next(); got != "id-1" {
		t.Fatalf("expected id-1, got %q", got)
	}
}
