package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for task start and end dates.
const DateLayout = "2006-01-02"

// Row is a Baserow row as returned with user_field_names=true.
type Row map[string]any

// ID returns the Baserow row identifier, or 0 when absent.
func (r Row) ID() int {
	switch v := r["id"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// Task represents a single Gantt bar reshaped from a Baserow row.
type Task struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	Progress     int    `json:"progress"`
	Dependencies []int  `json:"dependencies,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	Status       string `json:"status,omitempty"`
	Group        string `json:"group,omitempty"`
	Color        string `json:"color,omitempty"`
	Description  string `json:"description,omitempty"`
}

// TaskInput carries a create or partial update. Nil fields are left untouched.
type TaskInput struct {
	Name         *string  `json:"name,omitempty"`
	StartDate    *string  `json:"startDate,omitempty"`
	EndDate      *string  `json:"endDate,omitempty"`
	Progress     *float64 `json:"progress,omitempty"`
	Dependencies *[]int   `json:"dependencies,omitempty"`
	Assignee     *string  `json:"assignee,omitempty"`
	Status       *string  `json:"status,omitempty"`
	Group        *string  `json:"group,omitempty"`
	Color        *string  `json:"color,omitempty"`
	Description  *string  `json:"description,omitempty"`
}

var (
	// ErrMissingName is returned when a new task has no name.
	ErrMissingName = errors.New("task name is required")
	// ErrDateRange is returned when a task ends before it starts.
	ErrDateRange = errors.New("task end date is before start date")
)

// ValidateCreate checks the fields a new task must carry.
func (in TaskInput) ValidateCreate() error {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return ErrMissingName
	}
	return in.Validate()
}

// Validate checks date formats and ordering on whatever fields are present.
// Progress is not checked; ToRow clamps it to [0, 100].
func (in TaskInput) Validate() error {
	var start, end time.Time
	if in.StartDate != nil && *in.StartDate != "" {
		t, err := time.Parse(DateLayout, *in.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start date %q", *in.StartDate)
		}
		start = t
	}
	if in.EndDate != nil && *in.EndDate != "" {
		t, err := time.Parse(DateLayout, *in.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end date %q", *in.EndDate)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return ErrDateRange
	}
	return nil
}

// TaskFromRow reshapes a Baserow row through the field mapping.
func TaskFromRow(row Row, m FieldMapping) Task {
	t := Task{
		ID:          row.ID(),
		Name:        textValue(lookup(row, m.Name)),
		StartDate:   dateValue(lookup(row, m.StartDate)),
		EndDate:     dateValue(lookup(row, m.EndDate)),
		Assignee:    textValue(lookup(row, m.Assignee)),
		Status:      textValue(lookup(row, m.Status)),
		Group:       textValue(lookup(row, m.Group)),
		Color:       colorValue(lookup(row, m.Color)),
		Description: textValue(lookup(row, m.Description)),
	}
	if m.Progress != "" {
		t.Progress = progressValue(row[m.Progress])
	}
	if m.Dependencies != "" {
		t.Dependencies = dependencyIDs(row[m.Dependencies])
	}
	return t
}

// TasksFromRows reshapes every row.
func TasksFromRows(rows []Row, m FieldMapping) []Task {
	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, TaskFromRow(r, m))
	}
	return tasks
}

// ToRow converts the input to a Baserow row body. Only attributes that are both
// mapped and set are written.
func (in TaskInput) ToRow(m FieldMapping) Row {
	row := Row{}
	setString := func(field string, v *string) {
		if field != "" && v != nil {
			row[field] = *v
		}
	}
	setString(m.Name, in.Name)
	setString(m.Assignee, in.Assignee)
	setString(m.Status, in.Status)
	setString(m.Group, in.Group)
	setString(m.Color, in.Color)
	setString(m.Description, in.Description)
	if m.StartDate != "" && in.StartDate != nil {
		row[m.StartDate] = nullableDate(*in.StartDate)
	}
	if m.EndDate != "" && in.EndDate != nil {
		row[m.EndDate] = nullableDate(*in.EndDate)
	}
	if m.Progress != "" && in.Progress != nil {
		row[m.Progress] = clampProgress(*in.Progress)
	}
	if m.Dependencies != "" && in.Dependencies != nil {
		ids := make([]int, len(*in.Dependencies))
		copy(ids, *in.Dependencies)
		row[m.Dependencies] = ids
	}
	return row
}

func lookup(row Row, field string) any {
	if field == "" {
		return nil
	}
	return row[field]
}

func nullableDate(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// textValue flattens Baserow cell values (select options, collaborators,
// link rows, numbers) into display text.
func textValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any:
		for _, k := range []string{"value", "name"} {
			if s, ok := val[k].(string); ok {
				return s
			}
		}
		return ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := textValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func dateValue(v any) string {
	s := textValue(v)
	if len(s) < len(DateLayout) {
		return ""
	}
	if _, err := time.Parse(DateLayout, s[:len(DateLayout)]); err != nil {
		return ""
	}
	return s[:len(DateLayout)]
}

// colorValue prefers a select option's colour over its label.
func colorValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		if c, ok := m["color"].(string); ok && c != "" {
			return c
		}
	}
	return textValue(v)
}

func progressValue(v any) int {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(val), "%"), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	return clampProgress(f)
}

func clampProgress(f float64) int {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(math.Round(f))
}

func dependencyIDs(v any) []int {
	var ids []int
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			switch it := item.(type) {
			case float64:
				ids = append(ids, int(it))
			case map[string]any:
				if id := Row(it).ID(); id != 0 {
					ids = append(ids, id)
				}
			}
		}
	case string:
		for _, part := range strings.Split(val, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				ids = append(ids, n)
			}
		}
	}
	return ids
}
