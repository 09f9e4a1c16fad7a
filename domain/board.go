package domain

// Board is a named collection of tasks owned by a manager.
type Board struct {
	ID        string `json:"boardID"`
	Title     string `json:"title"`
	CreatedBy string `json:"createdBy,omitempty"`
}
