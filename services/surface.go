package services

import (
	"errors"
	"sync"
)

// Style is the visual treatment applied to a value the reconciler forced.
type Style struct {
	Color string `json:"color"`
	Bold  bool   `json:"bold"`
}

// UpdatedStyle marks values written by the reconciler.
var UpdatedStyle = Style{Color: "#28a745", Bold: true}

// Surface is where KPI values are displayed. Targets are addressed by element
// id; Text reports whether the target exists on the current view.
type Surface interface {
	Text(id string) (string, bool)
	Write(id, text string, style Style) error
}

var ErrNoSuchTarget = errors.New("display target not found")

// Element is one display target held by a MemorySurface.
type Element struct {
	Text  string
	Style Style
}

// MemorySurface is an in-memory set of display targets.
type MemorySurface struct {
	mu       sync.RWMutex
	elements map[string]*Element
}

// NewMemorySurface creates a surface holding the given targets, each showing "-".
func NewMemorySurface(ids ...string) *MemorySurface {
	s := &MemorySurface{elements: make(map[string]*Element, len(ids))}
	for _, id := range ids {
		s.elements[id] = &Element{Text: "-"}
	}
	return s
}

// Replace swaps the set of targets. Targets kept across the swap keep their text.
func (s *MemorySurface) Replace(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*Element, len(ids))
	for _, id := range ids {
		if el, ok := s.elements[id]; ok {
			next[id] = el
			continue
		}
		next[id] = &Element{Text: "-"}
	}
	s.elements = next
}

func (s *MemorySurface) Text(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[id]
	if !ok {
		return "", false
	}
	return el.Text, true
}

func (s *MemorySurface) Write(id, text string, style Style) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[id]
	if !ok {
		return ErrNoSuchTarget
	}
	el.Text = text
	el.Style = style
	return nil
}

// Element returns a copy of the target's state.
func (s *MemorySurface) Element(id string) (Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}
