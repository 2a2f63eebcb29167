package event

import (
	"errors"
	"fmt"

	"converge/internal/resource"
)

// ErrDeleteEventPresent signals an attempt to mark or unmark a regular event
// for a resource whose deletion has already been observed.
var ErrDeleteEventPresent = errors.New("delete event already present")

type markerState int

const (
	noEvent markerState = iota
	eventPresent
	deleteEventPresent
)

// Marker records, per resource, whether an unconsumed notification exists and
// whether a deletion has been seen. A deletion is terminal until Cleanup.
//
// Marker does no locking; the Processor serializes access.
type Marker struct {
	states map[resource.ID]markerState
}

// NewMarker creates an empty Marker.
func NewMarker() *Marker {
	return &Marker{states: make(map[resource.ID]markerState)}
}

// MarkEvent records a pending notification for id.
func (m *Marker) MarkEvent(id resource.ID) error {
	if m.states[id] == deleteEventPresent {
		return fmt.Errorf("cannot mark event for %s: %w", id, ErrDeleteEventPresent)
	}
	m.states[id] = eventPresent
	return nil
}

// MarkDeleteEvent records that id was deleted. Marking twice is harmless.
func (m *Marker) MarkDeleteEvent(id resource.ID) {
	m.states[id] = deleteEventPresent
}

// UnmarkEvent consumes the pending notification for id.
func (m *Marker) UnmarkEvent(id resource.ID) error {
	switch m.states[id] {
	case deleteEventPresent:
		return fmt.Errorf("cannot unmark event for %s: %w", id, ErrDeleteEventPresent)
	case eventPresent:
		delete(m.states, id)
	}
	return nil
}

// EventPresent reports whether a regular notification is pending for id.
func (m *Marker) EventPresent(id resource.ID) bool {
	return m.states[id] == eventPresent
}

// DeleteEventPresent reports whether id has been deleted.
func (m *Marker) DeleteEventPresent(id resource.ID) bool {
	return m.states[id] == deleteEventPresent
}

// Cleanup forgets everything about id.
func (m *Marker) Cleanup(id resource.ID) {
	delete(m.states, id)
}

// Len returns the number of resources with a pending or delete marker.
func (m *Marker) Len() int {
	return len(m.states)
}
