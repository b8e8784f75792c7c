package viewstate

import (
	"errors"
	"fmt"
)

// Action types accepted by Apply.
const (
	ActionSetZoom        = "setZoom"
	ActionZoomIn         = "zoomIn"
	ActionZoomOut        = "zoomOut"
	ActionSetScale       = "setScale"
	ActionSelect         = "select"
	ActionToggle         = "toggle"
	ActionSelectRange    = "selectRange"
	ActionClearSelection = "clearSelection"
	ActionToggleGroup    = "toggleGroup"
	ActionExpandAll      = "expandAll"
	ActionCollapseAll    = "collapseAll"
	ActionSetFilter      = "setFilter"
	ActionClearFilters   = "clearFilters"
	ActionSetPreset      = "setActivePreset"
)

// ErrUnknownAction is returned by Apply for unrecognised action types.
var ErrUnknownAction = errors.New("unknown view-state action")

// Action is one state transition as sent by a client.
type Action struct {
	Type     string   `json:"type"`
	Zoom     *float64 `json:"zoom,omitempty"`
	Scale    Scale    `json:"scale,omitempty"`
	ID       int      `json:"id,omitempty"`
	IDs      []int    `json:"ids,omitempty"`
	Order    []int    `json:"order,omitempty"`
	From     int      `json:"from,omitempty"`
	To       int      `json:"to,omitempty"`
	Group    string   `json:"group,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Filter   *Filter  `json:"filter,omitempty"`
	PresetID string   `json:"presetId,omitempty"`
}

// Apply performs each action in turn, stopping at the first invalid one.
func (s *State) Apply(actions ...Action) error {
	for i, a := range actions {
		if err := s.apply(a); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func (s *State) apply(a Action) error {
	switch a.Type {
	case ActionSetZoom:
		if a.Zoom == nil {
			return errors.New("zoom is required")
		}
		s.SetZoom(*a.Zoom)
	case ActionZoomIn:
		s.ZoomIn()
	case ActionZoomOut:
		s.ZoomOut()
	case ActionSetScale:
		return s.SetScale(a.Scale)
	case ActionSelect:
		s.Select(a.IDs...)
	case ActionToggle:
		s.Toggle(a.ID)
	case ActionSelectRange:
		s.SelectRange(a.Order, a.From, a.To)
	case ActionClearSelection:
		s.ClearSelection()
	case ActionToggleGroup:
		if a.Group == "" {
			return errors.New("group is required")
		}
		s.ToggleGroup(a.Group)
	case ActionExpandAll:
		s.ExpandAll(a.Groups)
	case ActionCollapseAll:
		s.CollapseAll()
	case ActionSetFilter:
		if a.Filter == nil {
			return errors.New("filter is required")
		}
		s.SetFilter(*a.Filter)
	case ActionClearFilters:
		s.ClearFilters()
	case ActionSetPreset:
		s.SetActivePreset(a.PresetID)
	default:
		return ErrUnknownAction
	}
	return nil
}
