package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPostNotFound is returned by MarkPosted for an unknown id.
var ErrPostNotFound = errors.New("scheduled post not found")

// Post is one entry of the content calendar.
type Post struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Content      string     `json:"content"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Posted       bool       `json:"posted"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	ExternalRef  string     `json:"external_ref,omitempty"`
}

// CalendarInfo describes the stored calendar.
type CalendarInfo struct {
	GeneratedAt time.Time
	Unposted    int
}

const metaCalendarGeneratedAt = "calendar_generated_at"

// ReplaceCalendar drops every unposted entry and stores posts as the new
// calendar. Posted entries are kept as history.
func (s *Store) ReplaceCalendar(ctx context.Context, posts []Post, generatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace calendar: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE posted = 0`); err != nil {
		return fmt.Errorf("replace calendar: %w", err)
	}
	for _, p := range posts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_posts (id, content, scheduled_for, kind, posted)
			VALUES (?, ?, ?, ?, 0)
		`, p.ID, p.Content, formatTime(p.ScheduledFor), p.Kind)
		if err != nil {
			return fmt.Errorf("replace calendar: insert %s: %w", p.ID, err)
		}
	}
	if err := setMeta(ctx, tx, metaCalendarGeneratedAt, formatTime(generatedAt)); err != nil {
		return fmt.Errorf("replace calendar: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace calendar: commit: %w", err)
	}
	return nil
}

// Calendar reports when the calendar was generated and how many entries
// are still unposted. A zero GeneratedAt means no calendar exists.
func (s *Store) Calendar(ctx context.Context) (CalendarInfo, error) {
	var info CalendarInfo
	raw, err := s.getMeta(ctx, metaCalendarGeneratedAt)
	if err != nil {
		return CalendarInfo{}, fmt.Errorf("calendar: %w", err)
	}
	if raw != "" {
		if info.GeneratedAt, err = parseTime(raw); err != nil {
			return CalendarInfo{}, fmt.Errorf("calendar: parse generated_at: %w", err)
		}
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_posts WHERE posted = 0`).Scan(&info.Unposted)
	if err != nil {
		return CalendarInfo{}, fmt.Errorf("calendar: %w", err)
	}
	return info, nil
}

// DuePosts lists unposted entries scheduled at or before now, oldest first.
func (s *Store) DuePosts(ctx context.Context, now time.Time) ([]Post, error) {
	return s.queryPosts(ctx, `
		SELECT id, kind, content, scheduled_for, posted, posted_at, external_ref
		FROM scheduled_posts
		WHERE posted = 0 AND scheduled_for <= ?
		ORDER BY scheduled_for, id
	`, formatTime(now))
}

// UpcomingPosts lists unposted entries, soonest first. limit <= 0 returns all.
func (s *Store) UpcomingPosts(ctx context.Context, limit int) ([]Post, error) {
	query := `
		SELECT id, kind, content, scheduled_for, posted, posted_at, external_ref
		FROM scheduled_posts
		WHERE posted = 0
		ORDER BY scheduled_for, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryPosts(ctx, query, args...)
}

// MarkPosted records that a post went out. Marking an already posted entry
// is a no-op.
func (s *Store) MarkPosted(ctx context.Context, id, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_posts SET posted = 1, posted_at = ?, external_ref = ?
		WHERE id = ? AND posted = 0
	`, formatTime(s.now()), externalRef, id)
	if err != nil {
		return fmt.Errorf("mark posted %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark posted %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_posts WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("mark posted %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("mark posted %s: %w", id, ErrPostNotFound)
	}
	return nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var (
			p            Post
			scheduledFor string
			posted       int
			postedAt     sql.NullString
			ref          sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Kind, &p.Content, &scheduledFor, &posted, &postedAt, &ref); err != nil {
			return nil, fmt.Errorf("query posts: %w", err)
		}
		if p.ScheduledFor, err = parseTime(scheduledFor); err != nil {
			return nil, fmt.Errorf("query posts: parse scheduled_for: %w", err)
		}
		if p.PostedAt, err = parseNullTime(postedAt); err != nil {
			return nil, fmt.Errorf("query posts: parse posted_at: %w", err)
		}
		p.Posted = posted == 1
		p.ExternalRef = ref.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return out, nil
}
