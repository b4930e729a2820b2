package hnsw

import (
	"errors"
	"testing"
)

func TestStoreAddAssignsSequentialIDs(t *testing.T) {
	s := NewStore()
	for want := uint32(0); want < 5; want++ {
		id, err := s.Add(&mockVec{}, 0)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if id != want {
			t.Errorf("Add returned id %d, want %d", id, want)
		}
	}
	if s.Len() != 5 {
		t.Errorf("Len() = %d, want 5", s.Len())
	}
}

func TestStoreAddRejectsNegativeLevel(t *testing.T) {
	s := NewStore()
	if _, err := s.Add(&mockVec{}, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Add(level=-1) error = %v, want ErrInvalidArgument", err)
	}
	if s.Len() != 0 {
		t.Errorf("store grew after rejected add: Len() = %d", s.Len())
	}
}

func TestStoreGetUnknownID(t *testing.T) {
	s := NewStore()
	if _, err := s.Get(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(0) on empty store error = %v, want ErrNotFound", err)
	}
}

func TestStoreEntryPointFollowsMaxLevel(t *testing.T) {
	s := NewStore()
	if _, ok := s.EntryPoint(); ok {
		t.Fatal("empty store reported an entry point")
	}
	if s.MaxLevel() != -1 {
		t.Errorf("empty store MaxLevel() = %d, want -1", s.MaxLevel())
	}

	s.Add(&mockVec{}, 2) // id 0
	s.Add(&mockVec{}, 1) // id 1
	s.Add(&mockVec{}, 3) // id 2

	ep, ok := s.EntryPoint()
	if !ok || ep != 2 {
		t.Errorf("EntryPoint() = %d, %v, want 2, true", ep, ok)
	}
	if s.MaxLevel() != 3 {
		t.Errorf("MaxLevel() = %d, want 3", s.MaxLevel())
	}

	// A tie at the max level must not displace the existing entry point.
	s.Add(&mockVec{}, 3) // id 3
	ep, _ = s.EntryPoint()
	if ep != 2 {
		t.Errorf("entry point moved on level tie: got %d, want 2", ep)
	}
}

func TestNodeNeighborsOutOfRangeLayer(t *testing.T) {
	s := NewStore()
	id, _ := s.Add(&mockVec{}, 1)
	n, _ := s.Get(id)

	if got := n.Neighbors(5); got != nil {
		t.Errorf("Neighbors(5) = %v, want nil", got)
	}
	if got := n.Neighbors(-1); got != nil {
		t.Errorf("Neighbors(-1) = %v, want nil", got)
	}
}
