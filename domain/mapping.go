package domain

// FieldMapping maps Gantt task attributes to Baserow field names.
type FieldMapping struct {
	Name         string `json:"name"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	Progress     string `json:"progress,omitempty"`
	Dependencies string `json:"dependencies,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	Status       string `json:"status,omitempty"`
	Group        string `json:"group,omitempty"`
	Color        string `json:"color,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Validate returns the required attributes left unmapped.
func (m FieldMapping) Validate() []string {
	var missing []string
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.StartDate == "" {
		missing = append(missing, "startDate")
	}
	if m.EndDate == "" {
		missing = append(missing, "endDate")
	}
	return missing
}

// Check returns the mapped field names that do not exist in the table.
func (m FieldMapping) Check(fields []Field) []string {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Name] = struct{}{}
	}
	var unknown []string
	for _, name := range m.fieldNames() {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func (m FieldMapping) fieldNames() []string {
	all := []string{m.Name, m.StartDate, m.EndDate, m.Progress, m.Dependencies,
		m.Assignee, m.Status, m.Group, m.Color, m.Description}
	out := all[:0]
	for _, n := range all {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// TableMappings holds saved mappings keyed by Baserow table id.
type TableMappings map[string]FieldMapping
