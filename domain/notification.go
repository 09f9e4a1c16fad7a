package domain

// Notification is one task/board event addressed to a user, created
// server-side and delivered over the realtime channel.
type Notification struct {
	Message   string `json:"message"`
	BoardName string `json:"boardName"`
	CreatedBy string `json:"createdBy"`
	Read      bool   `json:"isRead"`
}
