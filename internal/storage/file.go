package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"
)

// fileStore keeps every capsule in memory and persists it as:
//   - <prefix>.snapshot.json (full capsule set, replaced atomically)
//   - <prefix>.journal.jsonl (append-only creates and sent marks)
//
// The journal is compacted into the snapshot every compactEvery records and
// on Close. A journal line is one record, so MarkSent is atomic per capsule.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	capsules     map[string]capsule.Capsule

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op      string           `json:"op"` // "create" | "sent"
	ID      string           `json:"id"`
	Capsule *capsule.Capsule `json:"capsule,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	capsules := map[string]capsule.Capsule{}
	if err := loadSnapshot(snapPath, capsules); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	rep, err := replayJournal(journalPath, capsules)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if rep.skipped > 0 {
		log.Warn("journal lines skipped", logx.String("path", journalPath), logx.Int("skipped", rep.skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	// Appending after a torn tail would glue the next record onto it.
	if rep.torn > 0 {
		log.Warn("dropping torn journal tail", logx.String("path", journalPath), logx.Int("bytes", rep.torn))
		if err := jf.Truncate(rep.end); err != nil {
			_ = jf.Close()
			return nil, fmt.Errorf("truncate torn journal: %w", err)
		}
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("capsules", len(capsules)))
	return &fileStore{
		log:          log,
		now:          time.Now,
		snapshotPath: snapPath,
		journal:      jf,
		capsules:     capsules,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Create(ctx context.Context, d capsule.Draft) (capsule.Capsule, error) {
	c, err := newCapsule(d, s.now())
	if err != nil {
		return capsule.Capsule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "create", ID: c.ID, Capsule: &c}); err != nil {
		return capsule.Capsule{}, unavailable("create", err)
	}
	s.capsules[c.ID] = c
	s.maybeCompactLocked()
	return c, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (capsule.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.capsules[id]
	if !ok {
		return capsule.Capsule{}, fmt.Errorf("%w: %s", capsule.ErrNotFound, id)
	}
	return c, nil
}

func (s *fileStore) QueryDue(ctx context.Context, maxDate capsule.Date) ([]capsule.Capsule, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("query due", err)
	}
	s.mu.Lock()
	if s.journal == nil {
		s.mu.Unlock()
		return nil, unavailable("query due", os.ErrClosed)
	}
	var out []capsule.Capsule
	for _, c := range s.capsules {
		if c.DueOn(maxDate) {
			out = append(out, c)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SendDate != out[j].SendDate {
			return out[i].SendDate < out[j].SendDate
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fileStore) MarkSent(ctx context.Context, id string) (capsule.Capsule, error) {
	if err := ctx.Err(); err != nil {
		return capsule.Capsule{}, unavailable("mark sent", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.capsules[id]
	if !ok {
		return capsule.Capsule{}, fmt.Errorf("%w: %s", capsule.ErrNotFound, id)
	}
	if err := s.appendLocked(journalRecord{Op: "sent", ID: id}); err != nil {
		return capsule.Capsule{}, unavailable("mark sent", err)
	}
	c.Sent = true
	s.capsules[id] = c
	s.maybeCompactLocked()
	return c, nil
}

// appendLocked writes and fsyncs one journal record before memory changes.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return os.ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked runs after the in-memory apply so the snapshot includes
// the record it replaces.
func (s *fileStore) maybeCompactLocked() {
	if s.writes%s.compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compaction failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.capsules); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]capsule.Capsule) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]capsule.Capsule
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

type replayResult struct {
	end     int64 // offset just past the last newline
	torn    int   // bytes after end
	skipped int   // complete lines that did not decode
}

// replayJournal applies records in order. Bytes after the last newline are a
// torn write and are reported, not applied.
func replayJournal(path string, out map[string]capsule.Capsule) (replayResult, error) {
	var res replayResult
	data, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	last := bytes.LastIndexByte(data, '\n')
	res.end = int64(last + 1)
	res.torn = len(data) - (last + 1)

	for _, line := range bytes.Split(data[:last+1], []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil {
			res.skipped++
			continue
		}
		switch r.Op {
		case "create":
			if r.Capsule != nil {
				out[r.ID] = *r.Capsule
			}
		case "sent":
			if c, ok := out[r.ID]; ok {
				c.Sent = true
				out[r.ID] = c
			}
		}
	}
	return res, nil
}
