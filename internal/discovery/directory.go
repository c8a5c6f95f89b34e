// Package discovery lists the video sources an operator can select.
package discovery

import (
	"context"
	"errors"

	"github.com/smazurov/returnfeed/internal/frame"
)

// ErrSourceNotFound is returned by Find for unknown names.
var ErrSourceNotFound = errors.New("source not found")

// Directory enumerates available sources.
type Directory interface {
	List(ctx context.Context) ([]frame.SourceHandle, error)
	Find(name string) (frame.SourceHandle, error)
}

// Static is a fixed in-memory directory.
type Static []frame.SourceHandle

// List returns a copy of the sources.
func (s Static) List(context.Context) ([]frame.SourceHandle, error) {
	out := make([]frame.SourceHandle, len(s))
	copy(out, s)
	return out, nil
}

// Find returns the source with the given name.
func (s Static) Find(name string) (frame.SourceHandle, error) {
	return find(s, name)
}

func find(sources []frame.SourceHandle, name string) (frame.SourceHandle, error) {
	for _, src := range sources {
		if src.Name == name {
			return src, nil
		}
	}
	return frame.SourceHandle{}, ErrSourceNotFound
}
