package mailer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TLS modes.
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
	TLSNone     = "none"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From    string
	Timeout time.Duration
	// RatePerSec caps sends per second; 0 disables limiting.
	RatePerSec float64
	TLS        string
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) from() string {
	if f := strings.TrimSpace(c.From); f != "" {
		return f
	}
	return c.Username
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("mail host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mail port out of range: %d", c.Port)
	}
	if c.from() == "" {
		return errors.New("mail from (or username) is required")
	}
	switch c.TLS {
	case "", TLSStartTLS, TLSImplicit, TLSNone:
	default:
		return fmt.Errorf("unknown mail tls mode %q", c.TLS)
	}
	return nil
}
