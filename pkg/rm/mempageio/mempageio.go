// Package mempageio is the in-memory rm.PageIO adapter named in spec.md
// §9's design notes ("an in-memory adapter is another [implementation]"),
// used by tests and by any RM shard that does not need cross-restart
// durability of committed data (durability of PREPARED transactions is
// still provided independently by rm.PreparedLog).
package mempageio

import (
	"sync"

	"github.com/JoDio-zd/resvoy/pkg/rm"
)

// Store is a pure map[string]*rm.Page PageIO implementation.
type Store struct {
	mu    sync.Mutex
	pages map[string]*rm.Page
}

// New returns an empty in-memory PageIO.
func New() *Store {
	return &Store{pages: make(map[string]*rm.Page)}
}

func (s *Store) PageIn(pageID string) (*rm.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[pageID]; ok {
		return clonePage(page), nil
	}
	return rm.NewPage(pageID), nil
}

func (s *Store) PageOut(page *rm.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.PageID] = clonePage(page)
	return nil
}

func clonePage(p *rm.Page) *rm.Page {
	cp := rm.NewPage(p.PageID)
	for k, v := range p.Records {
		cp.Records[k] = v.Clone()
	}
	return cp
}
