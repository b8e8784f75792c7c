package domain

import (
	"strconv"
	"strings"
	"time"
)

// Operators understood by color rules.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpContains  = "contains"
	OpEmpty     = "empty"
	OpNotEmpty  = "not_empty"
)

// ColorRule paints tasks whose attribute matches a condition.
type ColorRule struct {
	ID       string `json:"id"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
	Color    string `json:"color"`
}

// Matches reports whether the rule applies to the task.
func (r ColorRule) Matches(t Task) bool {
	v := t.Attr(r.Field)
	switch r.Operator {
	case OpEquals:
		return strings.EqualFold(v, r.Value)
	case OpNotEquals:
		return !strings.EqualFold(v, r.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(r.Value))
	case OpEmpty:
		return v == ""
	case OpNotEmpty:
		return v != ""
	}
	return false
}

// ValidOperator reports whether op is a known operator.
func ValidOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpEmpty, OpNotEmpty:
		return true
	}
	return false
}

// ColorFor returns the colour of the first matching rule, or the task's own colour.
func ColorFor(t Task, rules []ColorRule) string {
	for _, r := range rules {
		if r.Matches(t) {
			return r.Color
		}
	}
	return t.Color
}

// Attr returns a task attribute by its mapping name.
func (t Task) Attr(name string) string {
	switch name {
	case "id":
		return strconv.Itoa(t.ID)
	case "name":
		return t.Name
	case "startDate":
		return t.StartDate
	case "endDate":
		return t.EndDate
	case "progress":
		return strconv.Itoa(t.Progress)
	case "assignee":
		return t.Assignee
	case "status":
		return t.Status
	case "group":
		return t.Group
	case "color":
		return t.Color
	case "description":
		return t.Description
	case "dependencies":
		ids := make([]string, len(t.Dependencies))
		for i, d := range t.Dependencies {
			ids[i] = strconv.Itoa(d)
		}
		return strings.Join(ids, ",")
	}
	return ""
}

// TextTemplate formats the label drawn on a task bar. Placeholders take the
// form {attribute}.
type TextTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Template string `json:"template"`
}

// Render substitutes known placeholders; unknown ones are kept verbatim.
func (tt TextTemplate) Render(t Task) string {
	var b strings.Builder
	s := tt.Template
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += open
		b.WriteString(s[:open])
		key := s[open+1 : end]
		if knownAttr(key) {
			b.WriteString(t.Attr(key))
		} else {
			b.WriteString(s[open : end+1])
		}
		s = s[end+1:]
	}
	return b.String()
}

func knownAttr(name string) bool {
	switch name {
	case "id", "name", "startDate", "endDate", "progress", "assignee",
		"status", "group", "color", "description", "dependencies":
		return true
	}
	return false
}

// Preset bundles a mapping with its display rules.
type Preset struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	TableID        string       `json:"tableId,omitempty"`
	FieldMapping   FieldMapping `json:"fieldMapping"`
	ColorRules     []ColorRule  `json:"colorRules,omitempty"`
	TextTemplateID string       `json:"textTemplateId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}
