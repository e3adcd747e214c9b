package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

// Filter narrows a timeline query. Zero values match everything.
type Filter struct {
	Family     types.Family
	Package    string
	Identifier string
	Operation  types.Operation
	BatchID    string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// TimelineStore appends and queries deployment timeline entries.
type TimelineStore struct {
	db  *DB
	now func() time.Time
}

// NewTimelineStore creates a timeline store
func NewTimelineStore(db *DB) *TimelineStore {
	return &TimelineStore{db: db, now: time.Now}
}

// WithClock replaces the clock used for entries without a timestamp.
func (s *TimelineStore) WithClock(now func() time.Time) *TimelineStore {
	s.now = now
	return s
}

const insertTimeline = `
	INSERT INTO timeline (batch_id, family, package, identifier, operation, outcome, detail, image, tag, created_ns)
	VALUES (:batch_id, :family, :package, :identifier, :operation, :outcome, :detail, :image, :tag, :created_ns)`

// Append records one entry and returns it with its id and timestamp set.
func (s *TimelineStore) Append(ctx context.Context, entry types.TimelineEntry) (types.TimelineEntry, error) {
	if err := validateEntry(entry); err != nil {
		return entry, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	row := rowFromEntry(entry)
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, insertTimeline, row)
		if err != nil {
			return err
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return entry, apperrors.DatabaseQuery("append timeline entry", err)
	}
	return entry, nil
}

func validateEntry(e types.TimelineEntry) error {
	if _, err := types.ParseFamily(string(e.Instance.Family)); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if e.Instance.Identifier == "" {
		return apperrors.InvalidInput("timeline entry has no instance identifier")
	}
	if _, ok := types.ParseOperation(string(e.Operation)); !ok {
		return apperrors.InvalidInput(fmt.Sprintf("unknown operation %q", e.Operation))
	}
	if e.Outcome != types.OutcomeSuccess && e.Outcome != types.OutcomeFailure {
		return apperrors.InvalidInput(fmt.Sprintf("unknown outcome %q", e.Outcome))
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *TimelineStore) Query(ctx context.Context, f Filter) ([]types.TimelineEntry, error) {
	query := `
		SELECT id, batch_id, family, package, identifier, operation, outcome, detail, image, tag, created_ns
		FROM timeline
		WHERE 1=1`
	args := []interface{}{}

	if f.Family != "" {
		query += " AND family = ?"
		args = append(args, string(f.Family))
	}
	if f.Package != "" {
		query += " AND package = ?"
		args = append(args, f.Package)
	}
	if f.Identifier != "" {
		query += " AND identifier = ?"
		args = append(args, f.Identifier)
	}
	if f.Operation != "" {
		query += " AND operation = ?"
		args = append(args, string(f.Operation))
	}
	if f.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, f.BatchID)
	}
	if !f.Since.IsZero() {
		query += " AND created_ns >= ?"
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		query += " AND created_ns < ?"
		args = append(args, f.Until.UnixNano())
	}

	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []TimelineRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.DatabaseQuery("query timeline", err)
	}

	entries := make([]types.TimelineEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.Entry())
	}
	return entries, nil
}

// LastKnown returns the instances whose most recent entry was a successful
// operation other than undeploy. An empty family covers every family.
func (s *TimelineStore) LastKnown(ctx context.Context, family types.Family) ([]types.InstanceRef, error) {
	query := `
		SELECT t.id, t.batch_id, t.family, t.package, t.identifier, t.operation, t.outcome,
		       t.detail, t.image, t.tag, t.created_ns
		FROM timeline t
		JOIN (
			SELECT MAX(id) AS id FROM timeline
			WHERE (? = '' OR family = ?)
			GROUP BY family, package, identifier
		) latest ON latest.id = t.id`

	var rows []TimelineRow
	if err := s.db.SelectContext(ctx, &rows, query, string(family), string(family)); err != nil {
		return nil, apperrors.DatabaseQuery("last known instances", err)
	}

	refs := make([]types.InstanceRef, 0, len(rows))
	for _, r := range rows {
		if r.Outcome != string(types.OutcomeSuccess) || r.Operation == string(types.OpUndeploy) {
			continue
		}
		refs = append(refs, r.Entry().Instance)
	}
	types.SortRefs(refs)
	return refs, nil
}

// Latest returns the most recent entry for one instance.
func (s *TimelineStore) Latest(ctx context.Context, ref types.InstanceRef) (*types.TimelineEntry, error) {
	entries, err := s.Query(ctx, Filter{
		Family:     ref.Family,
		Package:    ref.Package,
		Identifier: ref.Identifier,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.NotFound("timeline entry", ref.Key())
	}
	return &entries[0], nil
}
