// Package draft holds the in-progress answer set for one survey attempt.
package draft

import (
	"context"
	"time"

	"github.com/pitabwire/sarvekshan/internal/validation"
	"github.com/pitabwire/sarvekshan/model"
)

// SubmissionSaver persists a finalized submission and returns the stored
// record.
type SubmissionSaver interface {
	SaveSubmission(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error)
}

// Draft is the mutable answer set of one survey attempt. It is not safe for
// concurrent use; its owner serialises access.
type Draft struct {
	survey       model.SurveyDefinition
	facilityCode string
	locked       bool
	answers      map[string]string
	submittedBy  string
	discarded    bool
}

// Option configures a Draft.
type Option func(*Draft)

// WithSubmittedBy records who is filling in the survey.
func WithSubmittedBy(subject string) Option {
	return func(d *Draft) { d.submittedBy = subject }
}

// New creates a draft for survey. A non-nil seed resumes a saved attempt:
// answers to questions the survey still has are restored, and a saved
// facility code is restored and locked when it is still valid.
func New(survey model.SurveyDefinition, seed *model.DraftSnapshot, opts ...Option) *Draft {
	d := &Draft{
		survey:  survey,
		answers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if seed == nil {
		return d
	}

	for id, v := range seed.Answers {
		if _, ok := survey.Question(id); ok {
			d.answers[id] = v
		}
	}
	if survey.FacilityGated && validation.IsValidFacilityCode(seed.FacilityCode) {
		d.facilityCode = seed.FacilityCode
		d.locked = true
	}
	return d
}

// Survey returns the survey the draft belongs to.
func (d *Draft) Survey() model.SurveyDefinition {
	return d.survey
}

// NeedsFacilityCode reports whether answers are blocked on facility code
// entry.
func (d *Draft) NeedsFacilityCode() bool {
	return d.survey.FacilityGated && !d.locked
}

// FacilityCode returns the locked facility code, or "".
func (d *Draft) FacilityCode() string {
	return d.facilityCode
}

// SetFacilityCode validates and locks the facility code. Once locked it
// cannot be changed for the lifetime of the draft.
func (d *Draft) SetFacilityCode(code string) error {
	if err := d.usable(); err != nil {
		return err
	}
	if !d.survey.FacilityGated {
		return model.NewInvalidTransitionError("survey " + d.survey.ID + " does not take a facility code")
	}
	if d.locked {
		return model.NewConflictError("the facility code is already set; discard the survey to change it")
	}
	if err := validation.Check("facility_code", validation.RuleFacilityCode, code); err != nil {
		return err
	}
	d.facilityCode = code
	d.locked = true
	return nil
}

// SetAnswer stores value verbatim for questionID, replacing any prior value.
func (d *Draft) SetAnswer(questionID, value string) error {
	if err := d.usable(); err != nil {
		return err
	}
	if _, ok := d.survey.Question(questionID); !ok {
		return model.NewNotFoundError("question " + questionID + " is not part of survey " + d.survey.ID)
	}
	if d.NeedsFacilityCode() {
		return model.NewInvalidTransitionError("enter the facility code before answering")
	}
	d.answers[questionID] = value
	return nil
}

// Answer returns the stored value for questionID and whether one is set.
func (d *Draft) Answer(questionID string) (string, bool) {
	v, ok := d.answers[questionID]
	return v, ok
}

// Answers returns a copy of the stored answers.
func (d *Draft) Answers() map[string]string {
	return model.CopyAnswers(d.answers)
}

// Progress is the share of questions with a non-empty trimmed answer. Every
// question counts equally regardless of its required flag. A survey without
// questions is complete.
func (d *Draft) Progress() float64 {
	total := len(d.survey.Questions)
	if total == 0 {
		return 1
	}
	answered := 0
	for _, q := range d.survey.Questions {
		if validation.IsRequiredAnswerSatisfied(d.answers[q.ID]) {
			answered++
		}
	}
	return float64(answered) / float64(total)
}

// ValidateForSubmission returns the required questions without a usable
// answer, in survey order. An empty result means the draft may be submitted.
func (d *Draft) ValidateForSubmission() []model.QuestionSpec {
	var missing []model.QuestionSpec
	for _, q := range d.survey.Questions {
		if q.Required && !validation.IsRequiredAnswerSatisfied(d.answers[q.ID]) {
			missing = append(missing, q)
		}
	}
	return missing
}

// Finalize returns the immutable submission for this draft, or INCOMPLETE
// listing the unanswered required questions.
func (d *Draft) Finalize() (model.Submission, error) {
	if err := d.usable(); err != nil {
		return model.Submission{}, err
	}
	if d.NeedsFacilityCode() {
		return model.Submission{}, model.NewValidationError([]model.FieldError{{
			Field:   "facility_code",
			Code:    model.FieldRequired,
			Message: "a facility code is required for this survey",
		}})
	}
	if missing := d.ValidateForSubmission(); len(missing) > 0 {
		return model.Submission{}, model.NewIncompleteError(missing)
	}
	return model.Submission{
		SurveyID:      d.survey.ID,
		SurveyName:    d.survey.Name,
		FacilityGated: d.survey.FacilityGated,
		FacilityCode:  d.facilityCode,
		Answers:       model.CopyAnswers(d.answers),
		SubmittedBy:   d.submittedBy,
	}, nil
}

// Submit finalizes the draft and hands it to saver. The draft is discarded
// only once saver succeeds; on any failure it is left as it was.
func (d *Draft) Submit(ctx context.Context, saver SubmissionSaver) (model.HistoricalRecord, error) {
	sub, err := d.Finalize()
	if err != nil {
		return model.HistoricalRecord{}, err
	}
	rec, err := saver.SaveSubmission(ctx, sub)
	if err != nil {
		if model.CodeOf(err) != "" {
			return model.HistoricalRecord{}, err
		}
		return model.HistoricalRecord{}, model.NewProviderError("could not save the response", err)
	}
	d.Discard()
	return rec, nil
}

// Discard destroys the draft. Further mutations fail.
func (d *Draft) Discard() {
	d.discarded = true
	d.answers = make(map[string]string)
	d.facilityCode = ""
	d.locked = false
}

// Discarded reports whether the draft was discarded or submitted.
func (d *Draft) Discarded() bool {
	return d.discarded
}

// Snapshot captures the resumable state of the draft.
func (d *Draft) Snapshot(now time.Time) model.DraftSnapshot {
	return model.DraftSnapshot{
		SurveyID:     d.survey.ID,
		FacilityCode: d.facilityCode,
		Answers:      model.CopyAnswers(d.answers),
		Progress:     d.Progress(),
		SavedAt:      now,
	}
}

func (d *Draft) usable() error {
	if d.discarded {
		return model.NewInvalidTransitionError("the survey draft is no longer active")
	}
	return nil
}
