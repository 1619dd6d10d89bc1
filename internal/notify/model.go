package notify

import "time"

// Notification is the admin-facing event record as served by the backend.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// asRuleInput flattens the notification for CEL rule evaluation.
func (n Notification) asRuleInput() map[string]any {
	return map[string]any{
		"id":      n.ID,
		"type":    n.Type,
		"title":   n.Title,
		"message": n.Message,
		"link":    n.Link,
		"is_read": n.IsRead,
	}
}
