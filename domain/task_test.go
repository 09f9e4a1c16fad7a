package domain

import (
	"testing"

	"github.com/bytedance/sonic"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	for _, s := range []Status{"", "doing", "Done", "TODO"} {
		if s.Valid() {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestTaskWireFieldNames(t *testing.T) {
	task := Task{
		ID:            "t1",
		Title:         "Write docs",
		Status:        StatusTodo,
		BoardID:       "b1",
		SelectedBoard: "Sprint 1",
	}
	data, err := sonic.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := sonic.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["_id"] != "t1" || fields["boardID"] != "b1" || fields["selectedBoard"] != "Sprint 1" {
		t.Fatalf("unexpected wire fields: %v", fields)
	}

	var back Task
	if err := sonic.Unmarshal([]byte(`{"_id":"t2","selectedBoard":"Ops"}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != "t2" || back.SelectedBoard != "Ops" {
		t.Fatalf("unexpected decode: %+v", back)
	}
}

func TestGroupByStatusPreservesOrder(t *testing.T) {
	tasks := []Task{
		{ID: "a", Status: StatusTodo},
		{ID: "b", Status: StatusDone},
		{ID: "c", Status: StatusTodo},
		{ID: "d", Status: StatusInProgress},
		{ID: "e", Status: StatusTodo},
	}
	lanes := GroupByStatus(tasks)
	todo := lanes[StatusTodo]
	if len(todo) != 3 || todo[0].ID != "a" || todo[1].ID != "c" || todo[2].ID != "e" {
		t.Fatalf("unexpected todo lane: %#v", todo)
	}
	if len(lanes[StatusInProgress]) != 1 || lanes[StatusInProgress][0].ID != "d" {
		t.Fatalf("unexpected inProgress lane: %#v", lanes[StatusInProgress])
	}
	if len(lanes[StatusDone]) != 1 || lanes[StatusDone][0].ID != "b" {
		t.Fatalf("unexpected done lane: %#v", lanes[StatusDone])
	}
}

func TestGroupByStatusDropsUnknown(t *testing.T) {
	lanes := GroupByStatus([]Task{{ID: "a", Status: "archived"}})
	for _, s := range Statuses {
		if len(lanes[s]) != 0 {
			t.Fatalf("expected empty %s lane, got %#v", s, lanes[s])
		}
	}
}

func TestGroupByStatusAlwaysHasThreeLanes(t *testing.T) {
	lanes := GroupByStatus(nil)
	if len(lanes) != 3 {
		t.Fatalf("expected 3 lanes, got %d", len(lanes))
	}
	for _, s := range Statuses {
		if lanes[s] == nil {
			t.Fatalf("expected non-nil %s lane", s)
		}
	}
}
