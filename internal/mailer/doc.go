// Package mailer delivers capsule messages over SMTP.
//
// Mailer implements the delivery Notifier: Deliver hands one message to the
// configured relay and wraps every failure in capsule.ErrDeliveryFailed.
// Outbound sends are rate limited so a large backlog after downtime does not
// trip provider limits.
package mailer
