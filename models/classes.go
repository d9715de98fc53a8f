package models

import (
	"github.com/pkg/errors"
)

// OutputClass represents one classifier label.
type OutputClass struct {
	// The integer index of the logit.
	Index int
	// The human-readable label.
	Name string
}

// ClassSet is the ordered label vocabulary of a trained network. Logit i
// is the score of Classes[i].
type ClassSet struct {
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewClassSet builds a class set from names in logit order. Duplicate or
// empty names are rejected.
func NewClassSet(names []string) (*ClassSet, error) {
	if len(names) == 0 {
		return nil, errors.New("class set is empty")
	}
	s := &ClassSet{
		Classes:   make([]OutputClass, len(names)),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, errors.Errorf("class %d has an empty name", i)
		}
		if _, dup := s.nameToIdx[name]; dup {
			return nil, errors.Errorf("duplicate class name %q", name)
		}
		s.Classes[i] = OutputClass{Index: i, Name: name}
		s.nameToIdx[name] = i
	}
	return s, nil
}

// Len is the number of classes.
func (s *ClassSet) Len() int {
	return len(s.Classes)
}

// Names returns a copy of the class names in logit order.
func (s *ClassSet) Names() []string {
	out := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		out[i] = c.Name
	}
	return out
}

// GetName returns the class name for a logit index.
func (s *ClassSet) GetName(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", errors.Errorf("index %d out of range for %d classes", idx, len(s.Classes))
	}
	return s.Classes[idx].Name, nil
}

// GetIndex returns the logit index of a class name.
func (s *ClassSet) GetIndex(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("class %q not found", name)
	}
	return idx, nil
}
