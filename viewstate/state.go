// Package viewstate holds the Gantt view's UI state: selection, expanded
// groups, zoom, time scale and filters.
package viewstate

import (
	"errors"
	"math"
	"sync"
)

// Zoom bounds and step.
const (
	MinZoom     = 0.5
	MaxZoom     = 2.0
	DefaultZoom = 1.0
	ZoomStep    = 0.1
)

// Scale is the timeline granularity.
type Scale string

const (
	ScaleDay   Scale = "day"
	ScaleWeek  Scale = "week"
	ScaleMonth Scale = "month"
)

// ErrUnknownScale is returned for scales other than day, week and month.
var ErrUnknownScale = errors.New("unknown scale")

// Valid reports whether s is a known scale.
func (s Scale) Valid() bool {
	switch s {
	case ScaleDay, ScaleWeek, ScaleMonth:
		return true
	}
	return false
}

// Persisted is the slice of state saved between sessions. Selection is
// deliberately absent.
type Persisted struct {
	Zoom           float64  `json:"zoom"` // 0 means unset and hydrates to DefaultZoom
	Scale          Scale    `json:"scale"`
	Expanded       []string `json:"expanded"`
	Filter         Filter   `json:"filter"`
	ActivePresetID string   `json:"activePresetId,omitempty"`
}

// Snapshot is the full state as returned to clients.
type Snapshot struct {
	Persisted
	Selected []int `json:"selected"`
}

// State is safe for concurrent use.
type State struct {
	mu             sync.Mutex
	selected       []int
	selectedSet    map[int]struct{}
	expanded       map[string]struct{}
	zoom           float64
	scale          Scale
	filter         Filter
	activePresetID string
}

// New returns the default state.
func New() *State {
	return &State{
		selectedSet: make(map[int]struct{}),
		expanded:    make(map[string]struct{}),
		zoom:        DefaultZoom,
		scale:       ScaleWeek,
	}
}

// ClampZoom limits z to [MinZoom, MaxZoom]. NaN resets to the default.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return DefaultZoom
	}
	return math.Min(MaxZoom, math.Max(MinZoom, z))
}

// SetZoom sets the zoom level, clamped, and returns the applied value.
func (s *State) SetZoom(z float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = ClampZoom(z)
	return s.zoom
}

// ZoomIn increases zoom by one step.
func (s *State) ZoomIn() float64 {
	return s.stepZoom(ZoomStep)
}

// ZoomOut decreases zoom by one step.
func (s *State) ZoomOut() float64 {
	return s.stepZoom(-ZoomStep)
}

func (s *State) stepZoom(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	// round to one decimal so repeated steps do not drift
	s.zoom = ClampZoom(math.Round((s.zoom+delta)*10) / 10)
	return s.zoom
}

// Zoom returns the current zoom.
func (s *State) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// SetScale changes the timeline granularity.
func (s *State) SetScale(sc Scale) error {
	if !sc.Valid() {
		return ErrUnknownScale
	}
	s.mu.Lock()
	s.scale = sc
	s.mu.Unlock()
	return nil
}

// Select replaces the selection.
func (s *State) Select(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearSelectionLocked()
	for _, id := range ids {
		s.addLocked(id)
	}
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *State) Toggle(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selectedSet[id]; ok {
		delete(s.selectedSet, id)
		for i, v := range s.selected {
			if v == id {
				s.selected = append(s.selected[:i], s.selected[i+1:]...)
				break
			}
		}
		return false
	}
	s.addLocked(id)
	return true
}

// SelectRange selects every id in order between from and to inclusive,
// in whichever direction the drag went. Ids absent from order are ignored.
func (s *State) SelectRange(order []int, from, to int) {
	start, end := -1, -1
	for i, id := range order {
		if id == from {
			start = i
		}
		if id == to {
			end = i
		}
	}
	if start < 0 || end < 0 {
		return
	}
	if start > end {
		start, end = end, start
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range order[start : end+1] {
		s.addLocked(id)
	}
}

// ClearSelection empties the selection.
func (s *State) ClearSelection() {
	s.mu.Lock()
	s.clearSelectionLocked()
	s.mu.Unlock()
}

// Selected returns the selection in insertion order.
func (s *State) Selected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.selected))
	copy(out, s.selected)
	return out
}

func (s *State) addLocked(id int) {
	if _, ok := s.selectedSet[id]; ok {
		return
	}
	s.selectedSet[id] = struct{}{}
	s.selected = append(s.selected, id)
}

func (s *State) clearSelectionLocked() {
	s.selected = nil
	s.selectedSet = make(map[int]struct{})
}

// ToggleGroup flips a group's expanded flag and reports the new value.
func (s *State) ToggleGroup(group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expanded[group]; ok {
		delete(s.expanded, group)
		return false
	}
	s.expanded[group] = struct{}{}
	return true
}

// ExpandAll marks every given group expanded.
func (s *State) ExpandAll(groups []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range groups {
		s.expanded[g] = struct{}{}
	}
}

// CollapseAll collapses every group.
func (s *State) CollapseAll() {
	s.mu.Lock()
	s.expanded = make(map[string]struct{})
	s.mu.Unlock()
}

// SetFilter replaces the filter criteria.
func (s *State) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f.normalized()
	s.mu.Unlock()
}

// ClearFilters resets the filter criteria.
func (s *State) ClearFilters() {
	s.mu.Lock()
	s.filter = Filter{}
	s.mu.Unlock()
}

// Filter returns the current filter criteria.
func (s *State) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.clone()
}

// SetActivePreset records the preset in use.
func (s *State) SetActivePreset(id string) {
	s.mu.Lock()
	s.activePresetID = id
	s.mu.Unlock()
}

// Persisted returns the slice of state that survives a reload.
func (s *State) Persisted() Persisted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistedLocked()
}

func (s *State) persistedLocked() Persisted {
	return Persisted{
		Zoom:           s.zoom,
		Scale:          s.scale,
		Expanded:       sortedKeys(s.expanded),
		Filter:         s.filter.clone(),
		ActivePresetID: s.activePresetID,
	}
}

// Snapshot returns the persisted slice together with the selection.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := make([]int, len(s.selected))
	copy(sel, s.selected)
	return Snapshot{Persisted: s.persistedLocked(), Selected: sel}
}

// Hydrate restores a persisted slice. Out of range zoom is clamped and an
// unknown scale keeps the current one.
func (s *State) Hydrate(p Persisted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Zoom == 0 {
		s.zoom = DefaultZoom
	} else {
		s.zoom = ClampZoom(p.Zoom)
	}
	if p.Scale.Valid() {
		s.scale = p.Scale
	}
	s.expanded = make(map[string]struct{}, len(p.Expanded))
	for _, g := range p.Expanded {
		s.expanded[g] = struct{}{}
	}
	s.filter = p.Filter.normalized()
	s.activePresetID = p.ActivePresetID
}
