package catalog

import (
	"fmt"
	"strings"

	"github.com/pitabwire/sarvekshan/model"
)

// Validation error codes.
const (
	CodeRequired  = "REQUIRED"
	CodeDuplicate = "DUPLICATE"
	CodeInvalid   = "INVALID"
)

// VError describes a single problem in a catalog file.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks catalog documents for structural problems.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every survey of every document. Survey ids must be unique
// across all documents.
func (v *Validator) Validate(docs []Document) []VError {
	var errs []VError
	seen := make(map[string]string)

	for _, doc := range docs {
		if len(doc.Surveys) == 0 {
			errs = append(errs, VError{Path: doc.SourceFile, Code: CodeRequired, Message: "file declares no surveys"})
		}
		for i, s := range doc.Surveys {
			prefix := fmt.Sprintf("%s:surveys[%d]", doc.SourceFile, i)
			errs = append(errs, v.validateSurvey(prefix, s)...)

			if s.ID == "" {
				continue
			}
			if first, dup := seen[s.ID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    CodeDuplicate,
					Message: fmt.Sprintf("survey id %q is already declared in %s", s.ID, first),
				})
				continue
			}
			seen[s.ID] = doc.SourceFile
		}
	}
	return errs
}

func (v *Validator) validateSurvey(prefix string, s model.SurveyDefinition) []VError {
	var errs []VError

	if s.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: CodeRequired, Message: "id is required"})
	}
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: CodeRequired, Message: "name is required"})
	}

	ids := make(map[string]bool, len(s.Questions))
	for i, q := range s.Questions {
		qp := fmt.Sprintf("%s.questions[%d]", prefix, i)
		errs = append(errs, v.validateQuestion(qp, q)...)

		if q.ID == "" {
			continue
		}
		if ids[q.ID] {
			errs = append(errs, VError{Path: qp + ".id", Code: CodeDuplicate, Message: fmt.Sprintf("question id %q is not unique", q.ID)})
		}
		ids[q.ID] = true
	}
	return errs
}

func (v *Validator) validateQuestion(prefix string, q model.QuestionSpec) []VError {
	var errs []VError

	if q.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: CodeRequired, Message: "id is required"})
	}
	if strings.TrimSpace(q.Prompt) == "" {
		errs = append(errs, VError{Path: prefix + ".prompt", Code: CodeRequired, Message: "prompt is required"})
	}
	if !q.Kind.Valid() {
		errs = append(errs, VError{Path: prefix + ".kind", Code: CodeInvalid, Message: fmt.Sprintf("unknown question kind %q", q.Kind)})
		return errs
	}

	if q.Kind != model.KindSingleChoice {
		if len(q.Choices) > 0 {
			errs = append(errs, VError{Path: prefix + ".choices", Code: CodeInvalid, Message: "choices are only allowed on single_choice questions"})
		}
		return errs
	}

	if len(q.Choices) == 0 {
		errs = append(errs, VError{Path: prefix + ".choices", Code: CodeRequired, Message: "single_choice questions need at least one choice"})
	}
	seen := make(map[string]bool, len(q.Choices))
	for i, c := range q.Choices {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.choices[%d]", prefix, i), Code: CodeRequired, Message: "choice must not be blank"})
			continue
		}
		if seen[c] {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.choices[%d]", prefix, i), Code: CodeDuplicate, Message: fmt.Sprintf("choice %q is repeated", c)})
		}
		seen[c] = true
	}
	return errs
}
