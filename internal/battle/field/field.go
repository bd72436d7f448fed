// Package field implements the bounded occupancy grid units are placed on.
package field

import (
	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/errs"
)

type Position struct {
	X, Y uint8
}

// Field is a bounded width x height grid; at most one occupant per cell.
type Field struct {
	Width, Height uint8
	occupants     map[Position]uuid.UUID
}

func New(width, height uint8) *Field {
	return &Field{
		Width:     width,
		Height:    height,
		occupants: make(map[Position]uuid.UUID),
	}
}

func (f *Field) InBounds(p Position) bool {
	return p.X < f.Width && p.Y < f.Height
}

// Place rejects placements outside bounds or on collisions.
func (f *Field) Place(instanceID uuid.UUID, p Position) error {
	if !f.InBounds(p) {
		return errs.NewInvalidAction("placement out of field bounds")
	}
	if _, occupied := f.occupants[p]; occupied {
		return errs.NewInvalidAction("placement collides with existing occupant")
	}
	f.occupants[p] = instanceID
	return nil
}

func (f *Field) Remove(instanceID uuid.UUID) {
	for p, id := range f.occupants {
		if id == instanceID {
			delete(f.occupants, p)
			return
		}
	}
}

func (f *Field) At(p Position) (uuid.UUID, bool) {
	id, ok := f.occupants[p]
	return id, ok
}
