package delivery

import (
	"fmt"

	"capsuled/internal/capsule"
)

// Format renders capsules into outbound messages.
type Format struct {
	SubjectPrefix string
	Signature     string
}

func (f Format) Compose(c capsule.Capsule) capsule.Message {
	return capsule.Message{
		To:      c.Email,
		Subject: f.SubjectPrefix + c.Title,
		Body:    fmt.Sprintf("🔔 Waktunya tiba! Pesanmu:\n\nFrom: %s\n\nMessage:\n%s\n\n%s", c.Author, c.Message, f.Signature),
	}
}
