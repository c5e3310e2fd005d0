// Package capsule holds the domain types shared by the store, the mailer and
// the delivery scheduler.
package capsule

import (
	"time"
)

// Capsule is a message deferred until SendDate.
//
// Content fields are immutable after creation. Sent moves false to true at
// most once, and only after the message was handed to the notifier.
type Capsule struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	SendDate  Date      `json:"send_date"`
	Sent      bool      `json:"sent"`
	Opened    bool      `json:"opened"`
	CreatedAt time.Time `json:"created_at"`
}

// DueOn reports whether c is eligible for delivery on today.
func (c Capsule) DueOn(today Date) bool {
	return !c.Sent && c.SendDate.OnOrBefore(today)
}

// Message is a formatted outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}
