package model

import "time"

// QuestionKind enumerates the supported answer widgets.
type QuestionKind string

// Question kinds.
const (
	KindSingleChoice QuestionKind = "single_choice"
	KindFreeText     QuestionKind = "free_text"
	KindNumeric      QuestionKind = "numeric"
	KindLongText     QuestionKind = "long_text"
)

// Valid reports whether k is one of the known kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindSingleChoice, KindFreeText, KindNumeric, KindLongText:
		return true
	}
	return false
}

// SurveyDefinition is an immutable survey supplied by the catalog.
type SurveyDefinition struct {
	ID            string         `yaml:"id"             json:"id"`
	Name          string         `yaml:"name"           json:"name"`
	Description   string         `yaml:"description"    json:"description,omitempty"`
	FacilityGated bool           `yaml:"facility_gated" json:"facility_gated"`
	Languages     []string       `yaml:"languages"      json:"languages,omitempty"`
	Questions     []QuestionSpec `yaml:"questions"      json:"questions"`
}

// Question returns the question with the given ID.
func (s SurveyDefinition) Question(id string) (QuestionSpec, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionSpec{}, false
}

// QuestionSpec describes one question of a survey.
type QuestionSpec struct {
	ID       string       `yaml:"id"       json:"id"`
	Kind     QuestionKind `yaml:"kind"     json:"kind"`
	Prompt   string       `yaml:"prompt"   json:"prompt"`
	Choices  []string     `yaml:"choices"  json:"choices,omitempty"`
	Required bool         `yaml:"required" json:"required"`
}

// Submission is a finalized answer set handed to the response store.
type Submission struct {
	SurveyID      string            `json:"survey_id"`
	SurveyName    string            `json:"survey_name"`
	FacilityGated bool              `json:"facility_gated"`
	FacilityCode  string            `json:"facility_code,omitempty"`
	Answers       map[string]string `json:"answers"`
	SubmittedBy   string            `json:"submitted_by,omitempty"`
}

// HistoricalRecord is an immutable, stored submission.
type HistoricalRecord struct {
	ID            string            `json:"id"`
	SurveyID      string            `json:"survey_id"`
	SurveyName    string            `json:"survey_name"`
	FacilityGated bool              `json:"facility_gated"`
	FacilityCode  string            `json:"facility_code,omitempty"`
	Answers       map[string]string `json:"answers"`
	SubmittedBy   string            `json:"submitted_by,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// DraftSnapshot is the persisted partial state of a survey attempt, used to
// resume it later.
type DraftSnapshot struct {
	SurveyID     string            `json:"survey_id"`
	FacilityCode string            `json:"facility_code,omitempty"`
	Answers      map[string]string `json:"answers"`
	Progress     float64           `json:"progress"`
	SavedAt      time.Time         `json:"saved_at"`
}

// CopyAnswers returns a shallow copy of an answer map. A nil map yields an
// empty, non-nil map.
func CopyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
