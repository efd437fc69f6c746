package catalog

import (
	"strings"
	"testing"

	"github.com/pitabwire/sarvekshan/model"
)

func validDoc() Document {
	return Document{
		SourceFile: "health.yaml",
		Surveys: []model.SurveyDefinition{
			{
				ID:   "hh-water",
				Name: "Household Water Access",
				Questions: []model.QuestionSpec{
					{ID: "source", Kind: model.KindSingleChoice, Prompt: "Source", Choices: []string{"Tap", "Well"}, Required: true},
					{ID: "members", Kind: model.KindNumeric, Prompt: "Members"},
				},
			},
		},
	}
}

func hasError(errs []VError, pathSuffix, code string) bool {
	for _, e := range errs {
		if strings.HasSuffix(e.Path, pathSuffix) && e.Code == code {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	if errs := NewValidator().Validate([]Document{validDoc()}); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_surveyErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
		path   string
		code   string
	}{
		{"missing id", func(d *Document) { d.Surveys[0].ID = "" }, "surveys[0].id", CodeRequired},
		{"blank name", func(d *Document) { d.Surveys[0].Name = "  " }, "surveys[0].name", CodeRequired},
		{"missing question id", func(d *Document) { d.Surveys[0].Questions[1].ID = "" }, "questions[1].id", CodeRequired},
		{"missing prompt", func(d *Document) { d.Surveys[0].Questions[1].Prompt = "" }, "questions[1].prompt", CodeRequired},
		{"unknown kind", func(d *Document) { d.Surveys[0].Questions[1].Kind = "date" }, "questions[1].kind", CodeInvalid},
		{"duplicate question", func(d *Document) { d.Surveys[0].Questions[1].ID = "source" }, "questions[1].id", CodeDuplicate},
		{"choice without options", func(d *Document) { d.Surveys[0].Questions[0].Choices = nil }, "questions[0].choices", CodeRequired},
		{"blank choice", func(d *Document) { d.Surveys[0].Questions[0].Choices = []string{"Tap", " "} }, "choices[1]", CodeRequired},
		{"repeated choice", func(d *Document) { d.Surveys[0].Questions[0].Choices = []string{"Tap", "Tap"} }, "choices[1]", CodeDuplicate},
		{"choices on numeric", func(d *Document) { d.Surveys[0].Questions[1].Choices = []string{"1"} }, "questions[1].choices", CodeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			tt.mutate(&doc)
			errs := NewValidator().Validate([]Document{doc})
			if !hasError(errs, tt.path, tt.code) {
				t.Errorf("Validate() = %v, want %s at %s", errs, tt.code, tt.path)
			}
		})
	}
}

func TestValidator_emptyDocument(t *testing.T) {
	errs := NewValidator().Validate([]Document{{SourceFile: "empty.yaml"}})
	if !hasError(errs, "empty.yaml", CodeRequired) {
		t.Errorf("Validate() = %v, want REQUIRED for empty file", errs)
	}
}

func TestValidator_duplicateSurveyAcrossFiles(t *testing.T) {
	a := validDoc()
	b := validDoc()
	b.SourceFile = "copy.yaml"

	errs := NewValidator().Validate([]Document{a, b})
	if len(errs) != 1 {
		t.Fatalf("Validate() = %v, want exactly one error", errs)
	}
	if errs[0].Code != CodeDuplicate || !strings.HasPrefix(errs[0].Path, "copy.yaml") {
		t.Errorf("error = %+v", errs[0])
	}
	if !strings.Contains(errs[0].Message, "health.yaml") {
		t.Errorf("Message = %q, want the first declaring file", errs[0].Message)
	}
}

func TestVError_Error(t *testing.T) {
	e := VError{Path: "a.yaml:surveys[0].id", Code: CodeRequired, Message: "id is required"}
	if got, want := e.Error(), "a.yaml:surveys[0].id: id is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
