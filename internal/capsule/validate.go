package capsule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// reEmail matches the loose "something@something.tld" shape accepted for
// destination addresses. Deliverability is the mail server's problem.
var reEmail = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool { return reEmail.MatchString(s) }

// Draft is the user-supplied part of a capsule.
type Draft struct {
	Title    string
	Author   string
	Message  string
	Email    string
	SendDate string
}

// Validate checks d and returns the parsed send date. All problems are
// reported together and wrap ErrInvalid.
func (d Draft) Validate() (Date, error) {
	var errs []error
	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if strings.TrimSpace(d.Author) == "" {
		errs = append(errs, errors.New("author is required"))
	}
	if strings.TrimSpace(d.Message) == "" {
		errs = append(errs, errors.New("message is required"))
	}
	if !ValidEmail(d.Email) {
		errs = append(errs, fmt.Errorf("email %q is not a valid address", d.Email))
	}
	date, err := ParseDate(d.SendDate)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return date, nil
}
