// Package response stores submitted survey responses and resumable draft
// snapshots.
package response

import (
	"context"

	"github.com/pitabwire/sarvekshan/model"
)

// Store persists submissions and serves them back as history.
type Store interface {
	// SaveSubmission stores sub and returns the resulting record.
	SaveSubmission(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error)
	// ListHistory returns every record, newest first.
	ListHistory(ctx context.Context) ([]model.HistoricalRecord, error)
	// GetRecord returns one record or NOT_FOUND.
	GetRecord(ctx context.Context, id string) (model.HistoricalRecord, error)
}

// DraftStore persists draft snapshots keyed by survey id.
type DraftStore interface {
	// LoadDraft returns the saved snapshot for surveyID, or nil when none
	// exists.
	LoadDraft(ctx context.Context, surveyID string) (*model.DraftSnapshot, error)
	SaveDraft(ctx context.Context, snap model.DraftSnapshot) error
	// DeleteDraft removes the snapshot. Deleting a missing snapshot is not
	// an error.
	DeleteDraft(ctx context.Context, surveyID string) error
}

// ProfileStore persists field-worker profiles keyed by session subject.
type ProfileStore interface {
	// LoadProfile returns the profile of subject, or nil when none was
	// saved.
	LoadProfile(ctx context.Context, subject string) (*model.Profile, error)
	SaveProfile(ctx context.Context, p model.Profile) error
}
