package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"rewardskit/core"
)

// SkipList orders entries by points desc, then streak desc, then user asc,
// giving O(log n) expected updates.
const (
	maxLevel = 16
	pFactor  = 0.25
)

type node struct {
	e    Entry
	next [maxLevel]*node
}

type SkipList struct {
	mu     sync.RWMutex
	head   *node
	height int
	index  map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	// a zero seed only degrades balance, never correctness
	_, _ = cryptorand.Read(seed[:])
	return &SkipList{
		head:   &node{},
		height: 1,
		index:  map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) coinFlips() int {
	h := 1
	for h < maxLevel && s.rng.Float64() < pFactor {
		h++
	}
	return h
}

// ahead reports whether a ranks strictly before b.
func ahead(a, b Entry) bool {
	switch {
	case a.Points != b.Points:
		return a.Points > b.Points
	case a.Streak != b.Streak:
		return a.Streak > b.Streak
	}
	return a.User < b.User
}

// predecessors returns, per level, the last node ranking ahead of e.
func (s *SkipList) predecessors(e Entry) [maxLevel]*node {
	var prev [maxLevel]*node
	cur := s.head
	for i := s.height - 1; i >= 0; i-- {
		for cur.next[i] != nil && ahead(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		prev[i] = cur
	}
	return prev
}

// Update inserts the entry or moves an existing user to its new standing.
func (s *SkipList) Update(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.index[e.User]; ok {
		if old.e == e {
			return
		}
		s.unlink(old)
	}
	prev := s.predecessors(e)
	h := s.coinFlips()
	for ; s.height < h; s.height++ {
		prev[s.height] = s.head
	}
	n := &node{e: e}
	for i := 0; i < h; i++ {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
	}
	s.index[e.User] = n
}

func (s *SkipList) unlink(n *node) {
	prev := s.predecessors(n.e)
	for i := 0; i < s.height; i++ {
		if prev[i].next[i] == n {
			prev[i].next[i] = n.next[i]
		}
	}
	delete(s.index, n.e.User)
	for s.height > 1 && s.head.next[s.height-1] == nil {
		s.height--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index[user]; ok {
		s.unlink(n)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, len(s.index)))
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.index[user]; ok {
		return n.e, true
	}
	return Entry{}, false
}

// Rank returns the 1-based position of user.
func (s *SkipList) Rank(user core.UserID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.index[user]
	if !ok {
		return 0, false
	}
	rank := 1
	for cur := s.head.next[0]; cur != nil && cur != target; cur = cur.next[0] {
		rank++
	}
	return rank, true
}

// Len returns the number of ranked users.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

var _ Board = (*SkipList)(nil)
