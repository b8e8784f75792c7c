package viewstate

import (
	"sort"
	"strings"

	"gantt-proxy/domain"
)

// Filter narrows the visible tasks. Empty criteria match everything.
type Filter struct {
	Search    string   `json:"search,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
}

// IsZero reports whether no criteria are set.
func (f Filter) IsZero() bool {
	return f.Search == "" && len(f.Statuses) == 0 && len(f.Assignees) == 0 &&
		len(f.Groups) == 0 && f.From == "" && f.To == ""
}

// Match reports whether the task passes every criterion.
func (f Filter) Match(t domain.Task) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(t.Name), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) &&
			!strings.Contains(strings.ToLower(t.Assignee), q) {
			return false
		}
	}
	if len(f.Statuses) > 0 && !containsFold(f.Statuses, t.Status) {
		return false
	}
	if len(f.Assignees) > 0 && !assigneeMatch(f.Assignees, t.Assignee) {
		return false
	}
	if len(f.Groups) > 0 && !containsFold(f.Groups, t.Group) {
		return false
	}
	return f.overlaps(t)
}

// Apply returns the tasks that match, preserving order.
func (f Filter) Apply(tasks []domain.Task) []domain.Task {
	if f.IsZero() {
		return tasks
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// overlaps checks the [From, To] window against the task's dates. Dates are
// YYYY-MM-DD so lexical comparison is chronological. Undated tasks only pass
// when no window is set.
func (f Filter) overlaps(t domain.Task) bool {
	if f.From == "" && f.To == "" {
		return true
	}
	start, end := t.StartDate, t.EndDate
	if start == "" {
		start = end
	}
	if end == "" {
		end = start
	}
	if start == "" {
		return false
	}
	if f.From != "" && end < f.From {
		return false
	}
	if f.To != "" && start > f.To {
		return false
	}
	return true
}

// assignee cells may hold several comma-separated names
func assigneeMatch(want []string, assignee string) bool {
	for _, a := range strings.Split(assignee, ",") {
		if containsFold(want, strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func (f Filter) normalized() Filter {
	return Filter{
		Search:    strings.TrimSpace(f.Search),
		Statuses:  dedupe(f.Statuses),
		Assignees: dedupe(f.Assignees),
		Groups:    dedupe(f.Groups),
		From:      strings.TrimSpace(f.From),
		To:        strings.TrimSpace(f.To),
	}
}

func (f Filter) clone() Filter {
	c := f
	c.Statuses = append([]string(nil), f.Statuses...)
	c.Assignees = append([]string(nil), f.Assignees...)
	c.Groups = append([]string(nil), f.Groups...)
	return c
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
