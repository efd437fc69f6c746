package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/sarvekshan/model"
)

// Schema creates the tables used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS survey_responses (
	id             TEXT PRIMARY KEY,
	survey_id      TEXT NOT NULL,
	survey_name    TEXT NOT NULL,
	facility_gated BOOLEAN NOT NULL DEFAULT FALSE,
	facility_code  TEXT NOT NULL DEFAULT '',
	answers        JSONB NOT NULL,
	submitted_by   TEXT NOT NULL DEFAULT '',
	completed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS survey_responses_completed_at_idx ON survey_responses (completed_at DESC);

CREATE TABLE IF NOT EXISTS survey_drafts (
	survey_id     TEXT PRIMARY KEY,
	facility_code TEXT NOT NULL DEFAULT '',
	answers       JSONB NOT NULL,
	progress      DOUBLE PRECISION NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS field_worker_profiles (
	subject    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	gender     TEXT NOT NULL,
	state      TEXT NOT NULL,
	district   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PgStore is a PostgreSQL-backed Store, DraftStore and ProfileStore using
// pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL response store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the response, draft and profile tables when missing.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create response schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSubmission inserts sub as a new record.
func (s *PgStore) SaveSubmission(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error) {
	rec := NewRecord(uuid.NewString(), sub, time.Now().UTC())

	answersJSON, err := json.Marshal(rec.Answers)
	if err != nil {
		return model.HistoricalRecord{}, fmt.Errorf("marshal answers: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO survey_responses (
			id, survey_id, survey_name, facility_gated, facility_code,
			answers, submitted_by, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SurveyID, rec.SurveyName, rec.FacilityGated, rec.FacilityCode,
		answersJSON, rec.SubmittedBy, rec.CompletedAt,
	)
	if err != nil {
		return model.HistoricalRecord{}, fmt.Errorf("insert survey response: %w", err)
	}
	return rec, nil
}

// ListHistory returns every record, newest first.
func (s *PgStore) ListHistory(ctx context.Context) ([]model.HistoricalRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, survey_id, survey_name, facility_gated, facility_code,
		       answers, submitted_by, completed_at
		FROM survey_responses
		ORDER BY completed_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query survey responses: %w", err)
	}
	defer rows.Close()

	var records []model.HistoricalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate survey responses: %w", err)
	}
	return records, nil
}

// GetRecord returns the record with the given id.
func (s *PgStore) GetRecord(ctx context.Context, id string) (model.HistoricalRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, survey_id, survey_name, facility_gated, facility_code,
		       answers, submitted_by, completed_at
		FROM survey_responses
		WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HistoricalRecord{}, model.NewNotFoundError(fmt.Sprintf("record %q not found", id))
	}
	return rec, err
}

// LoadDraft returns the saved snapshot for surveyID, or nil.
func (s *PgStore) LoadDraft(ctx context.Context, surveyID string) (*model.DraftSnapshot, error) {
	var snap model.DraftSnapshot
	var answersJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT survey_id, facility_code, answers, progress, saved_at
		FROM survey_drafts
		WHERE survey_id = $1`, surveyID,
	).Scan(&snap.SurveyID, &snap.FacilityCode, &answersJSON, &snap.Progress, &snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query survey draft: %w", err)
	}
	if err := json.Unmarshal(answersJSON, &snap.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal draft answers: %w", err)
	}
	return &snap, nil
}

// SaveDraft upserts the snapshot for snap.SurveyID.
func (s *PgStore) SaveDraft(ctx context.Context, snap model.DraftSnapshot) error {
	answersJSON, err := json.Marshal(model.CopyAnswers(snap.Answers))
	if err != nil {
		return fmt.Errorf("marshal draft answers: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO survey_drafts (survey_id, facility_code, answers, progress, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (survey_id) DO UPDATE SET
			facility_code = EXCLUDED.facility_code,
			answers = EXCLUDED.answers,
			progress = EXCLUDED.progress,
			saved_at = EXCLUDED.saved_at`,
		snap.SurveyID, snap.FacilityCode, answersJSON, snap.Progress, snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert survey draft: %w", err)
	}
	return nil
}

// DeleteDraft removes the snapshot for surveyID.
func (s *PgStore) DeleteDraft(ctx context.Context, surveyID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM survey_drafts WHERE survey_id = $1`, surveyID); err != nil {
		return fmt.Errorf("delete survey draft: %w", err)
	}
	return nil
}

// LoadProfile returns the profile of subject, or nil.
func (s *PgStore) LoadProfile(ctx context.Context, subject string) (*model.Profile, error) {
	var p model.Profile
	var gender string

	err := s.pool.QueryRow(ctx, `
		SELECT subject, name, gender, state, district, updated_at
		FROM field_worker_profiles
		WHERE subject = $1`, subject,
	).Scan(&p.Subject, &p.Name, &gender, &p.State, &p.District, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	p.Gender = model.Gender(gender)
	return &p, nil
}

// SaveProfile upserts the profile of p.Subject.
func (s *PgStore) SaveProfile(ctx context.Context, p model.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO field_worker_profiles (subject, name, gender, state, district, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject) DO UPDATE SET
			name = EXCLUDED.name,
			gender = EXCLUDED.gender,
			state = EXCLUDED.state,
			district = EXCLUDED.district,
			updated_at = EXCLUDED.updated_at`,
		p.Subject, p.Name, string(p.Gender), p.State, p.District, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (model.HistoricalRecord, error) {
	var rec model.HistoricalRecord
	var answersJSON []byte

	err := row.Scan(
		&rec.ID, &rec.SurveyID, &rec.SurveyName, &rec.FacilityGated, &rec.FacilityCode,
		&answersJSON, &rec.SubmittedBy, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HistoricalRecord{}, err
	}
	if err != nil {
		return model.HistoricalRecord{}, fmt.Errorf("scan survey response: %w", err)
	}
	if err := json.Unmarshal(answersJSON, &rec.Answers); err != nil {
		return model.HistoricalRecord{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	return rec, nil
}
