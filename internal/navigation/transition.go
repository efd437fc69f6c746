package navigation

import (
	"github.com/pitabwire/sarvekshan/internal/survey"
	"github.com/pitabwire/sarvekshan/model"
)

// Event drives a navigation transition.
type Event interface {
	Name() string
	isEvent()
}

// AuthSucceeded is raised once the login flow is authenticated.
type AuthSucceeded struct{}

// TabSelected switches the main view tab.
type TabSelected struct {
	Tab Tab
}

// SurveyStarted opens a survey with its flow.
type SurveyStarted struct {
	Survey model.SurveyDefinition
	Flow   *survey.Flow
}

// SurveySubmitted is raised after a successful submission.
type SurveySubmitted struct{}

// SurveyDiscarded is raised after the open survey is discarded.
type SurveyDiscarded struct{}

// SurveySuspended is raised when the open survey is saved and left.
type SurveySuspended struct{}

// RecordOpened opens a submitted record for review.
type RecordOpened struct {
	Record model.HistoricalRecord
}

// Back leaves the record under review.
type Back struct{}

// LoggedOut ends the session from any state.
type LoggedOut struct{}

func (AuthSucceeded) Name() string   { return "auth_succeeded" }
func (TabSelected) Name() string     { return "tab_selected" }
func (SurveyStarted) Name() string   { return "survey_started" }
func (SurveySubmitted) Name() string { return "survey_submitted" }
func (SurveyDiscarded) Name() string { return "survey_discarded" }
func (SurveySuspended) Name() string { return "survey_suspended" }
func (RecordOpened) Name() string    { return "record_opened" }
func (Back) Name() string            { return "back" }
func (LoggedOut) Name() string       { return "logged_out" }

func (AuthSucceeded) isEvent()   {}
func (TabSelected) isEvent()     {}
func (SurveyStarted) isEvent()   {}
func (SurveySubmitted) isEvent() {}
func (SurveyDiscarded) isEvent() {}
func (SurveySuspended) isEvent() {}
func (RecordOpened) isEvent()    {}
func (Back) isEvent()            {}
func (LoggedOut) isEvent()       {}

// Transition returns the state that follows s on ev, or INVALID_TRANSITION.
// It has no side effects.
func Transition(s State, ev Event) (State, error) {
	if _, ok := ev.(LoggedOut); ok {
		return Unauthenticated{}, nil
	}

	switch cur := s.(type) {
	case Unauthenticated:
		if _, ok := ev.(AuthSucceeded); ok {
			return MainView{ActiveTab: TabSurvey}, nil
		}

	case MainView:
		switch e := ev.(type) {
		case TabSelected:
			if _, err := ParseTab(string(e.Tab)); err != nil {
				return cur, err
			}
			return MainView{ActiveTab: e.Tab}, nil
		case SurveyStarted:
			if e.Flow == nil {
				return cur, model.NewInvalidTransitionError("a survey needs a flow to start")
			}
			return SurveyInProgress{Survey: e.Survey, Flow: e.Flow}, nil
		case RecordOpened:
			return ResponseReview{Record: e.Record}, nil
		}

	case SurveyInProgress:
		switch ev.(type) {
		case SurveySubmitted:
			return MainView{ActiveTab: TabHistory}, nil
		case SurveyDiscarded, SurveySuspended:
			return MainView{ActiveTab: TabSurvey}, nil
		}

	case ResponseReview:
		if _, ok := ev.(Back); ok {
			return MainView{ActiveTab: TabHistory}, nil
		}
	}

	return s, model.NewInvalidTransitionError(ev.Name() + " is not allowed in state " + stateName(s))
}

func stateName(s State) string {
	if s == nil {
		return "none"
	}
	return s.Name()
}
