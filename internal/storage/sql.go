package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const capsuleColumns = `id, title, author, message, email, send_date, sent, opened, created_at`

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dialect captures the few differences between the SQL drivers.
type dialect struct {
	name      string
	migration string
	// numbered placeholders ($1, $2, ...) instead of "?"
	numbered bool
}

// sqlStore is the database/sql implementation shared by sqlite and postgres.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, log: log, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.d.migration)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("%s migrate: %w", s.d.name, err)
	}
	return nil
}

// rebind rewrites "?" placeholders for dialects that number them.
func (s *sqlStore) rebind(q string) string {
	if !s.d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, d capsule.Draft) (capsule.Capsule, error) {
	c, err := newCapsule(d, s.now())
	if err != nil {
		return capsule.Capsule{}, err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO capsules (`+capsuleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Title, c.Author, c.Message, c.Email, string(c.SendDate), c.Sent, c.Opened,
		c.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return capsule.Capsule{}, unavailable("create", err)
	}
	return c, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (capsule.Capsule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+capsuleColumns+` FROM capsules WHERE id = ?`), id)
	c, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capsule.Capsule{}, fmt.Errorf("%w: %s", capsule.ErrNotFound, id)
	}
	if err != nil {
		return capsule.Capsule{}, unavailable("get", err)
	}
	return c, nil
}

func (s *sqlStore) QueryDue(ctx context.Context, maxDate capsule.Date) ([]capsule.Capsule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+capsuleColumns+` FROM capsules
		 WHERE sent = FALSE AND send_date <= ?
		 ORDER BY send_date, created_at`),
		string(maxDate),
	)
	if err != nil {
		return nil, unavailable("query due", err)
	}
	defer rows.Close()

	var out []capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, unavailable("scan due", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query due", err)
	}
	return out, nil
}

// MarkSent is a single-row UPDATE ... RETURNING, atomic on both dialects.
func (s *sqlStore) MarkSent(ctx context.Context, id string) (capsule.Capsule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`UPDATE capsules SET sent = TRUE WHERE id = ? RETURNING `+capsuleColumns), id)
	c, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capsule.Capsule{}, fmt.Errorf("%w: %s", capsule.ErrNotFound, id)
	}
	if err != nil {
		return capsule.Capsule{}, unavailable("mark sent", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapsule(r rowScanner) (capsule.Capsule, error) {
	var (
		c         capsule.Capsule
		sendDate  string
		createdAt string
	)
	if err := r.Scan(&c.ID, &c.Title, &c.Author, &c.Message, &c.Email, &sendDate, &c.Sent, &c.Opened, &createdAt); err != nil {
		return capsule.Capsule{}, err
	}
	c.SendDate = capsule.Date(sendDate)
	if t, err := time.Parse(createdAtLayout, createdAt); err == nil {
		c.CreatedAt = t
	}
	return c, nil
}
