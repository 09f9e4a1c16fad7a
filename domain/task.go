package domain

// Status is the lane a task is rendered in. It is the only workflow state a
// task carries; any transition between the three values is legal.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

// Statuses lists the lanes in render order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is one of the three lane identifiers.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task represents a single board item as served by the API. Ordering within a
// lane is implicit in server response order.
type Task struct {
	ID            string `json:"_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Status        Status `json:"status"`
	AssignedTo    string `json:"assignedTo,omitempty"`
	BoardID       string `json:"boardID"`
	SelectedBoard string `json:"selectedBoard,omitempty"`
	CreatedBy     string `json:"createdBy,omitempty"`
}

// GroupByStatus splits tasks into per-lane slices, preserving the input order
// inside each lane. Tasks with an unknown status are dropped.
func GroupByStatus(tasks []Task) map[Status][]Task {
	lanes := make(map[Status][]Task, len(Statuses))
	for _, s := range Statuses {
		lanes[s] = []Task{}
	}
	for _, t := range tasks {
		if !t.Status.Valid() {
			continue
		}
		lanes[t.Status] = append(lanes[t.Status], t)
	}
	return lanes
}
