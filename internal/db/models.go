package db

import (
	"time"

	"hostfleet/internal/types"
)

// TimelineRow is the stored form of a timeline entry.
type TimelineRow struct {
	ID         int64  `db:"id"`
	BatchID    string `db:"batch_id"`
	Family     string `db:"family"`
	Package    string `db:"package"`
	Identifier string `db:"identifier"`
	Operation  string `db:"operation"`
	Outcome    string `db:"outcome"`
	Detail     string `db:"detail"`
	Image      string `db:"image"`
	Tag        string `db:"tag"`
	CreatedNs  int64  `db:"created_ns"`
}

// Entry converts the row to its domain form.
func (r TimelineRow) Entry() types.TimelineEntry {
	return types.TimelineEntry{
		ID:      r.ID,
		BatchID: r.BatchID,
		Instance: types.InstanceRef{
			Family:     types.Family(r.Family),
			Package:    r.Package,
			Identifier: r.Identifier,
		},
		Operation: types.Operation(r.Operation),
		Outcome:   types.Outcome(r.Outcome),
		Detail:    r.Detail,
		Image:     r.Image,
		Tag:       r.Tag,
		Timestamp: time.Unix(0, r.CreatedNs).UTC(),
	}
}

func rowFromEntry(e types.TimelineEntry) TimelineRow {
	return TimelineRow{
		BatchID:    e.BatchID,
		Family:     string(e.Instance.Family),
		Package:    e.Instance.Package,
		Identifier: e.Instance.Identifier,
		Operation:  string(e.Operation),
		Outcome:    string(e.Outcome),
		Detail:     e.Detail,
		Image:      e.Image,
		Tag:        e.Tag,
		CreatedNs:  e.Timestamp.UnixNano(),
	}
}

// Alias names an image reference such as CURRENT or ROLLBACK.
type Alias struct {
	Alias string    `db:"alias" json:"alias"`
	Image string    `db:"image" json:"image"`
	Tag   string    `db:"tag" json:"tag"`
	SetAt time.Time `db:"-" json:"set_at"`
	SetNs int64     `db:"set_ns" json:"-"`
}

// Reference returns image:tag.
func (a Alias) Reference() string {
	return a.Image + ":" + a.Tag
}

// ImageEvent records a change to the image aliases.
type ImageEvent struct {
	ID        int64     `db:"id" json:"id"`
	Action    string    `db:"action" json:"action"`
	Image     string    `db:"image" json:"image"`
	Tag       string    `db:"tag" json:"tag"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	CreatedNs int64     `db:"created_ns" json:"-"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// ImageRef is an image:tag pair seen in deployment history.
type ImageRef struct {
	Image    string    `db:"image" json:"image"`
	Tag      string    `db:"tag" json:"tag"`
	LastNs   int64     `db:"last_ns" json:"-"`
	LastUsed time.Time `db:"-" json:"last_used"`
}

// Reference returns image:tag.
func (r ImageRef) Reference() string {
	return r.Image + ":" + r.Tag
}
