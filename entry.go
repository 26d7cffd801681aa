package main

import (
	"strings"

	"github.com/pkg/errors"
)

type EntryID uint64

// EntryStore binds configuration nodes to the runtime objects they
// configure. Nodes are identified by their data path so that a binding made
// against the candidate tree is found again from the running tree.
type EntryStore struct {
	next  EntryID
	arena map[EntryID]any
	ids   map[any]EntryID
	refs  map[EntryID]int
	index map[string]EntryID
}

func NewEntryStore() *EntryStore {
	return &EntryStore{
		next:  1,
		arena: make(map[EntryID]any),
		ids:   make(map[any]EntryID),
		refs:  make(map[EntryID]int),
		index: make(map[string]EntryID),
	}
}

func (s *EntryStore) Bind(node *Node, entry any) error {
	if entry == nil {
		return errors.New("cannot bind nil entry")
	}
	path := node.XPath()
	if id, ok := s.index[path]; ok {
		if s.arena[id] == entry {
			return nil
		}
		return errors.Errorf("node %s already bound to a different entry", path)
	}
	id, ok := s.ids[entry]
	if !ok {
		id = s.next
		s.next++
		s.arena[id] = entry
		s.ids[entry] = id
	}
	s.refs[id]++
	s.index[path] = id
	return nil
}

func (s *EntryStore) unbindPath(path string) any {
	id, ok := s.index[path]
	if !ok {
		return nil
	}
	delete(s.index, path)
	entry := s.arena[id]
	s.refs[id]--
	if s.refs[id] <= 0 {
		delete(s.refs, id)
		delete(s.arena, id)
		delete(s.ids, entry)
	}
	return entry
}

// Unbind removes the node's own binding and returns the entry it held.
func (s *EntryStore) Unbind(node *Node) any {
	return s.unbindPath(node.XPath())
}

// UnbindSubtree removes the bindings of the node and all of its descendants.
func (s *EntryStore) UnbindSubtree(node *Node) any {
	path := node.XPath()
	for p := range s.index {
		if strings.HasPrefix(p, path+"/") {
			s.unbindPath(p)
		}
	}
	return s.unbindPath(path)
}

// Lookup returns the entry bound to the node or to its nearest bound
// ancestor. A required miss means a create callback did not run first.
func (s *EntryStore) Lookup(node *Node, required bool) (any, error) {
	for n := node; n != nil; n = n.Parent() {
		if id, ok := s.index[n.XPath()]; ok {
			return s.arena[id], nil
		}
	}
	if required {
		return nil, errors.Wrap(ErrEntryMissing, node.XPath())
	}
	return nil, nil
}

func (s *EntryStore) Len() int {
	return len(s.index)
}

// GetEntry returns the nearest entry of type T bound at or above node.
func GetEntry[T any](s *EntryStore, node *Node, required bool) (T, error) {
	var zero T
	for n := node; n != nil; n = n.Parent() {
		id, ok := s.index[n.XPath()]
		if !ok {
			continue
		}
		if entry, ok := s.arena[id].(T); ok {
			return entry, nil
		}
	}
	if required {
		return zero, errors.Wrapf(ErrEntryMissing, "%s (want %T)", node.XPath(), zero)
	}
	return zero, nil
}
