// Package navigation owns the top-level client state: login, the main tabs,
// an in-progress survey and a response under review.
package navigation

import (
	"github.com/pitabwire/sarvekshan/internal/survey"
	"github.com/pitabwire/sarvekshan/model"
)

// Tab is a main view tab.
type Tab string

// Main view tabs.
const (
	TabSurvey  Tab = "survey"
	TabHistory Tab = "history"
	TabProfile Tab = "profile"
)

// ParseTab returns the tab named s.
func ParseTab(s string) (Tab, error) {
	switch t := Tab(s); t {
	case TabSurvey, TabHistory, TabProfile:
		return t, nil
	}
	return "", model.NewValidationError([]model.FieldError{{
		Field:   "tab",
		Code:    model.FieldFormat,
		Message: "tab must be one of survey, history, profile",
	}})
}

// State is one of Unauthenticated, MainView, SurveyInProgress or
// ResponseReview.
type State interface {
	// Name is a stable identifier used in logs and metrics.
	Name() string
	isState()
}

// Unauthenticated is the login screen.
type Unauthenticated struct{}

// MainView shows one of the main tabs.
type MainView struct {
	ActiveTab Tab
}

// SurveyInProgress is an open survey. The flow owns its draft.
type SurveyInProgress struct {
	Survey model.SurveyDefinition
	Flow   *survey.Flow
}

// ResponseReview shows one submitted record.
type ResponseReview struct {
	Record model.HistoricalRecord
}

func (Unauthenticated) Name() string  { return "unauthenticated" }
func (MainView) Name() string         { return "main_view" }
func (SurveyInProgress) Name() string { return "survey_in_progress" }
func (ResponseReview) Name() string   { return "response_review" }

func (Unauthenticated) isState()  {}
func (MainView) isState()         {}
func (SurveyInProgress) isState() {}
func (ResponseReview) isState()   {}
