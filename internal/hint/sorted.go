package hint

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type sortedNode struct {
	prev uuid.UUID // toward head, higher ratio
	next uuid.UUID // toward tail, lower ratio
	nicr *uint256.Int
}

// SortedTroves is a doubly-linked list of owners ordered by descending
// nominal collateral ratio. Equal ratios keep earlier insertions closer to
// the head. Insertion is a linear walk; this is the reference index, not a
// balanced structure, and callers should treat its cost accordingly.
//
// Implements both Cursor and the lifecycle's OrderedIndex.
// Not thread-safe; the engine serializes access.
type SortedTroves struct {
	nodes map[uuid.UUID]*sortedNode
	head  uuid.UUID
	tail  uuid.UUID
}

func NewSortedTroves() *SortedTroves {
	return &SortedTroves{
		nodes: make(map[uuid.UUID]*sortedNode),
	}
}

// Size returns the number of listed owners.
func (s *SortedTroves) Size() int { return len(s.nodes) }

// First returns the owner with the highest nominal ratio.
func (s *SortedTroves) First() uuid.UUID { return s.head }

// Last returns the owner with the lowest nominal ratio.
func (s *SortedTroves) Last() uuid.UUID { return s.tail }

// Prev returns the next owner toward the head (higher ratio).
func (s *SortedTroves) Prev(owner uuid.UUID) uuid.UUID {
	if n, ok := s.nodes[owner]; ok {
		return n.prev
	}
	return uuid.Nil
}

// Next returns the next owner toward the tail (lower ratio).
func (s *SortedTroves) Next(owner uuid.UUID) uuid.UUID {
	if n, ok := s.nodes[owner]; ok {
		return n.next
	}
	return uuid.Nil
}

// NICR returns the ratio the owner was inserted with, nil for unknown owners.
func (s *SortedTroves) NICR(owner uuid.UUID) *uint256.Int {
	if n, ok := s.nodes[owner]; ok {
		return new(uint256.Int).Set(n.nicr)
	}
	return nil
}

// Insert places owner at its ordered position. Inserting an owner that is
// already listed is a bug in the caller; the old node is replaced.
func (s *SortedTroves) Insert(owner uuid.UUID, nicr *uint256.Int) {
	if _, ok := s.nodes[owner]; ok {
		s.Remove(owner)
	}
	n := &sortedNode{prev: uuid.Nil, next: uuid.Nil, nicr: new(uint256.Int).Set(nicr)}

	if s.head == uuid.Nil {
		s.head = owner
		s.tail = owner
		s.nodes[owner] = n
		return
	}

	// Walk from the head to the first node with a strictly lower ratio.
	// Ties are passed over, keeping earlier insertions closer to the head.
	cur := s.head
	for cur != uuid.Nil && !s.nodes[cur].nicr.Lt(nicr) {
		cur = s.nodes[cur].next
	}

	if cur == uuid.Nil {
		// New tail.
		n.prev = s.tail
		s.nodes[s.tail].next = owner
		s.tail = owner
	} else {
		before := s.nodes[cur].prev
		n.next = cur
		n.prev = before
		s.nodes[cur].prev = owner
		if before == uuid.Nil {
			s.head = owner
		} else {
			s.nodes[before].next = owner
		}
	}
	s.nodes[owner] = n
}

// Reinsert repositions owner with a new ratio.
func (s *SortedTroves) Reinsert(owner uuid.UUID, nicr *uint256.Int) {
	s.Remove(owner)
	s.Insert(owner, nicr)
}

// Remove unlinks owner; unknown owners are a no-op.
func (s *SortedTroves) Remove(owner uuid.UUID) {
	n, ok := s.nodes[owner]
	if !ok {
		return
	}
	if n.prev == uuid.Nil {
		s.head = n.next
	} else {
		s.nodes[n.prev].next = n.next
	}
	if n.next == uuid.Nil {
		s.tail = n.prev
	} else {
		s.nodes[n.next].prev = n.prev
	}
	delete(s.nodes, owner)
}
