package hint_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/hint"
)

func nicr(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// ============================================================
// Test: ordering
// ============================================================

func TestSortedInsertDescending(t *testing.T) {
	s := hint.NewSortedTroves()
	low, mid, high := uuid.New(), uuid.New(), uuid.New()

	s.Insert(mid, nicr(2))
	s.Insert(high, nicr(3))
	s.Insert(low, nicr(1))

	if s.First() != high {
		t.Errorf("first: got %s, want %s", s.First(), high)
	}
	if s.Last() != low {
		t.Errorf("last: got %s, want %s", s.Last(), low)
	}
	if s.Prev(low) != mid {
		t.Errorf("prev(low): got %s, want %s", s.Prev(low), mid)
	}
	if s.Prev(mid) != high {
		t.Errorf("prev(mid): got %s, want %s", s.Prev(mid), high)
	}
	if s.Prev(high) != uuid.Nil {
		t.Errorf("prev(high): got %s, want Nil", s.Prev(high))
	}
	if s.Next(high) != mid {
		t.Errorf("next(high): got %s, want %s", s.Next(high), mid)
	}
}

func TestSortedTiesKeepInsertionOrder(t *testing.T) {
	s := hint.NewSortedTroves()
	first, second := uuid.New(), uuid.New()

	s.Insert(first, nicr(2))
	s.Insert(second, nicr(2))

	// Earlier insertion stays closer to the head.
	if s.First() != first {
		t.Errorf("head: got %s, want %s", s.First(), first)
	}
	if s.Next(first) != second {
		t.Errorf("next(first): got %s, want %s", s.Next(first), second)
	}
}

func TestSortedEmpty(t *testing.T) {
	s := hint.NewSortedTroves()
	if s.First() != uuid.Nil || s.Last() != uuid.Nil {
		t.Error("empty list should return Nil ends")
	}
	if s.Prev(uuid.New()) != uuid.Nil {
		t.Error("prev of unknown owner should be Nil")
	}
	if s.Size() != 0 {
		t.Errorf("size: got %d, want 0", s.Size())
	}
}

// ============================================================
// Test: remove / reinsert
// ============================================================

func TestSortedRemove(t *testing.T) {
	s := hint.NewSortedTroves()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s.Insert(a, nicr(3))
	s.Insert(b, nicr(2))
	s.Insert(c, nicr(1))

	s.Remove(b)
	if s.Size() != 2 {
		t.Fatalf("size: got %d, want 2", s.Size())
	}
	if s.Prev(c) != a {
		t.Errorf("prev(c): got %s, want %s", s.Prev(c), a)
	}
	if s.Next(a) != c {
		t.Errorf("next(a): got %s, want %s", s.Next(a), c)
	}

	// Removing the ends updates head and tail.
	s.Remove(a)
	if s.First() != c || s.Last() != c {
		t.Error("single remaining node should be both ends")
	}
	s.Remove(c)
	if s.First() != uuid.Nil || s.Last() != uuid.Nil {
		t.Error("emptied list should return Nil ends")
	}
}

func TestSortedReinsertMoves(t *testing.T) {
	s := hint.NewSortedTroves()
	a, b := uuid.New(), uuid.New()
	s.Insert(a, nicr(3))
	s.Insert(b, nicr(2))

	// b's ratio improves past a.
	s.Reinsert(b, nicr(4))
	if s.First() != b {
		t.Errorf("first: got %s, want %s", s.First(), b)
	}
	if s.Last() != a {
		t.Errorf("last: got %s, want %s", s.Last(), a)
	}
	if got := s.NICR(b); got.Cmp(nicr(4)) != 0 {
		t.Errorf("nicr(b): got %s", got.Dec())
	}
}
