package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "hostfleet/internal/errors"
)

// Image aliases.
const (
	AliasCurrent  = "CURRENT"
	AliasRollback = "ROLLBACK"
)

// Image event actions.
const (
	ActionSetCurrent = "set-current"
	ActionRollback   = "rollback"
)

// historyQuery lists distinct image:tag pairs that were successfully
// deployed or explicitly made current, most recently used first.
const historyQuery = `
	SELECT image, tag, MAX(ts) AS last_ns FROM (
		SELECT image, tag, created_ns AS ts FROM timeline
		WHERE outcome = 'success' AND operation IN ('deploy', 'redeploy') AND image != ''
		UNION ALL
		SELECT image, tag, created_ns AS ts FROM image_events
		WHERE action = 'set-current'
	)
	GROUP BY image, tag
	ORDER BY last_ns DESC
	LIMIT ?`

// AliasStore keeps the CURRENT and ROLLBACK image aliases.
type AliasStore struct {
	db  *DB
	now func() time.Time
}

// NewAliasStore creates an alias store
func NewAliasStore(db *DB) *AliasStore {
	return &AliasStore{db: db, now: time.Now}
}

// WithClock replaces the clock used to stamp alias changes.
func (s *AliasStore) WithClock(now func() time.Time) *AliasStore {
	s.now = now
	return s
}

// Alias returns one alias, or nil when it has never been set.
func (s *AliasStore) Alias(ctx context.Context, name string) (*Alias, error) {
	var a Alias
	err := s.db.GetContext(ctx, &a, "SELECT alias, image, tag, set_ns FROM image_aliases WHERE alias = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseQuery("get alias", err)
	}
	a.SetAt = time.Unix(0, a.SetNs).UTC()
	return &a, nil
}

// Aliases returns every alias ordered by name.
func (s *AliasStore) Aliases(ctx context.Context) ([]Alias, error) {
	var aliases []Alias
	if err := s.db.SelectContext(ctx, &aliases, "SELECT alias, image, tag, set_ns FROM image_aliases ORDER BY alias"); err != nil {
		return nil, apperrors.DatabaseQuery("list aliases", err)
	}
	for i := range aliases {
		aliases[i].SetAt = time.Unix(0, aliases[i].SetNs).UTC()
	}
	return aliases, nil
}

// SetCurrent points CURRENT at image:tag and moves the previous CURRENT to
// ROLLBACK. It returns the previous CURRENT, or nil on first use.
func (s *AliasStore) SetCurrent(ctx context.Context, image, tag string) (*Alias, error) {
	if image == "" || tag == "" {
		return nil, apperrors.InvalidInput("image and tag are required")
	}

	previous, err := s.Alias(ctx, AliasCurrent)
	if err != nil {
		return nil, err
	}

	detail := "initial current"
	if previous != nil {
		detail = "previous: " + previous.Reference()
	}

	now := s.now().UnixNano()
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if previous != nil {
			if err := upsertAlias(ctx, tx, AliasRollback, previous.Image, previous.Tag, now); err != nil {
				return err
			}
		}
		if err := upsertAlias(ctx, tx, AliasCurrent, image, tag, now); err != nil {
			return err
		}
		return recordEvent(ctx, tx, ActionSetCurrent, image, tag, detail, now)
	})
	if err != nil {
		return nil, apperrors.DatabaseQuery("set current image", err)
	}
	return previous, nil
}

// Rollback makes the second most recently used image:tag CURRENT. History
// is read from the timeline rather than the ROLLBACK alias. It returns nil
// when fewer than two distinct images have been used.
func (s *AliasStore) Rollback(ctx context.Context) (*Alias, error) {
	history, err := s.PreviousTags(ctx, 2)
	if err != nil {
		return nil, err
	}
	if len(history) < 2 {
		return nil, nil
	}
	target := history[1]

	current, err := s.Alias(ctx, AliasCurrent)
	if err != nil {
		return nil, err
	}

	detail := "rolled back from unknown"
	if current != nil {
		detail = "rolled back from " + current.Reference()
	}

	now := s.now().UnixNano()
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if current != nil {
			if err := upsertAlias(ctx, tx, AliasRollback, current.Image, current.Tag, now); err != nil {
				return err
			}
		}
		if err := upsertAlias(ctx, tx, AliasCurrent, target.Image, target.Tag, now); err != nil {
			return err
		}
		return recordEvent(ctx, tx, ActionRollback, target.Image, target.Tag, detail, now)
	})
	if err != nil {
		return nil, apperrors.DatabaseQuery("rollback image", err)
	}

	return &Alias{Alias: AliasCurrent, Image: target.Image, Tag: target.Tag, SetNs: now, SetAt: time.Unix(0, now).UTC()}, nil
}

// PreviousTags lists distinct image:tag pairs from deployment history,
// most recent first.
func (s *AliasStore) PreviousTags(ctx context.Context, limit int) ([]ImageRef, error) {
	if limit <= 0 {
		limit = 10
	}
	var refs []ImageRef
	if err := s.db.SelectContext(ctx, &refs, historyQuery, limit); err != nil {
		return nil, apperrors.DatabaseQuery("previous tags", err)
	}
	for i := range refs {
		refs[i].LastUsed = time.Unix(0, refs[i].LastNs).UTC()
	}
	return refs, nil
}

// Events returns image alias changes, newest first.
func (s *AliasStore) Events(ctx context.Context, limit int) ([]ImageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []ImageEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, action, image, tag, detail, created_ns
		FROM image_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.DatabaseQuery("list image events", err)
	}
	for i := range events {
		events[i].CreatedAt = time.Unix(0, events[i].CreatedNs).UTC()
	}
	return events, nil
}

// ResolveTag maps the "current" and "rollback" pseudo-tags to the image and
// tag they alias. Any other tag is returned unchanged with the given image.
func (s *AliasStore) ResolveTag(ctx context.Context, image, tag string) (string, string, error) {
	var name string
	switch tag {
	case "current", AliasCurrent:
		name = AliasCurrent
	case "rollback", AliasRollback:
		name = AliasRollback
	default:
		return image, tag, nil
	}

	a, err := s.Alias(ctx, name)
	if err != nil {
		return "", "", err
	}
	if a == nil {
		return "", "", apperrors.NotFound("image alias", name)
	}
	return a.Image, a.Tag, nil
}

func upsertAlias(ctx context.Context, tx *sqlx.Tx, alias, image, tag string, ns int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO image_aliases (alias, image, tag, set_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET image = excluded.image, tag = excluded.tag, set_ns = excluded.set_ns`,
		alias, image, tag, ns)
	return err
}

func recordEvent(ctx context.Context, tx *sqlx.Tx, action, image, tag, detail string, ns int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO image_events (action, image, tag, detail, created_ns)
		VALUES (?, ?, ?, ?, ?)`,
		action, image, tag, detail, ns)
	return err
}
