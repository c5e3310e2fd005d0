// Package opsalert forwards warning and error log lines to a Telegram chat.
package opsalert

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram caps message text at 4096 characters. The limit is applied to
// bytes, which is never more than the character count.
const maxMessageLen = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint; empty means the public one.
	APIURL string
}

// Sender implements logx.AlertSender on top of a send-only bot.
type Sender struct {
	bot *tele.Bot

	mu       sync.RWMutex
	chatID   int64
	threadID int
}

func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline skips getMe; the sender never polls for updates.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

// SetTarget switches the destination chat (config hot reload).
func (s *Sender) SetTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.chatID, s.threadID = chatID, threadID
	s.mu.Unlock()
}

func (s *Sender) SendAlert(ctx context.Context, text string) error {
	s.mu.RLock()
	chatID, threadID := s.chatID, s.threadID
	s.mu.RUnlock()
	if chatID == 0 {
		return errors.New("telegram alert chat_id not set")
	}
	if len(text) > maxMessageLen {
		text = truncate(text, maxMessageLen)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
// truncate cuts s to at most n bytes, ending on a rune boundary plus "…".
func truncate(s string, n int) string {
	const mark = "…"
	limit := n - len(mark)
	for limit > 0 && limit < len(s) && !isRuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + mark
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
