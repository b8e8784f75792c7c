package domain

import "testing"

func TestColorFor(t *testing.T) {
	rules := []ColorRule{
		{ID: "r1", Field: "status", Operator: OpEquals, Value: "done", Color: "#00ff00"},
		{ID: "r2", Field: "assignee", Operator: OpEmpty, Color: "#cccccc"},
		{ID: "r3", Field: "name", Operator: OpContains, Value: "urgent", Color: "#ff0000"},
	}

	tests := []struct {
		name string
		task Task
		want string
	}{
		{name: "first rule wins", task: Task{Status: "Done", Name: "Urgent fix"}, want: "#00ff00"},
		{name: "empty assignee", task: Task{Status: "Open", Name: "x"}, want: "#cccccc"},
		{name: "contains", task: Task{Assignee: "Ana", Name: "URGENT"}, want: "#ff0000"},
		{name: "fallback to task colour", task: Task{Assignee: "Ana", Color: "blue"}, want: "blue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorFor(tt.task, rules); got != tt.want {
				t.Fatalf("ColorFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestColorRuleUnknownOperator(t *testing.T) {
	r := ColorRule{Field: "status", Operator: "gt", Value: "1"}
	if r.Matches(Task{Status: "2"}) {
		t.Fatal("unknown operator must not match")
	}
	if ValidOperator("gt") {
		t.Fatal("gt should not be a valid operator")
	}
}

func TestTextTemplateRender(t *testing.T) {
	task := Task{ID: 4, Name: "Deploy", Assignee: "Bo", Progress: 30}
	tmpl := TextTemplate{Template: "{name} ({assignee}) {progress}% {unknown} {"}

	got := tmpl.Render(task)
	want := "Deploy (Bo) 30% {unknown} {"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}
