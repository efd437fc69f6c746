package catalog

import (
	"testing"

	"github.com/pitabwire/sarvekshan/model"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	doc, err := l.LoadFile("testdata/surveys/health.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if len(doc.Surveys) != 2 {
		t.Fatalf("Surveys = %d, want 2", len(doc.Surveys))
	}
	s := doc.Surveys[0]
	if s.ID != "hh-water" {
		t.Errorf("ID = %q, want hh-water", s.ID)
	}
	if len(s.Languages) != 2 || s.Languages[1] != "hi" {
		t.Errorf("Languages = %v", s.Languages)
	}
	if len(s.Questions) != 4 {
		t.Fatalf("Questions = %d, want 4", len(s.Questions))
	}
	q := s.Questions[0]
	if q.Kind != model.KindSingleChoice || !q.Required || len(q.Choices) != 4 {
		t.Errorf("Questions[0] = %+v", q)
	}
	if s.Questions[3].Required {
		t.Error("Questions[3].Required = true, want false")
	}
	if doc.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if doc.SourceFile != "testdata/surveys/health.yaml" {
		t.Errorf("SourceFile = %q", doc.SourceFile)
	}
}

func TestLoader_LoadFile_facilityGated(t *testing.T) {
	doc, err := NewLoader().LoadFile("testdata/surveys/school.yml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !doc.Surveys[0].FacilityGated {
		t.Error("FacilityGated = false, want true")
	}
	if got := doc.Surveys[0].Questions[1].Choices; len(got) != 2 || got[0] != "Yes" {
		t.Errorf("Choices = %v, want [Yes No]", got)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/invalid/bad.yaml"); err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	docs, err := NewLoader().LoadAll([]string{"testdata/surveys"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	// README.txt is skipped.
	if len(docs) != 2 {
		t.Fatalf("LoadAll() returned %d documents, want 2", len(docs))
	}
	if docs[0].SourceFile != "testdata/surveys/health.yaml" {
		t.Errorf("docs[0].SourceFile = %q", docs[0].SourceFile)
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	if _, err := NewLoader().LoadAll([]string{"testdata/nonexistent"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestLoader_LoadAll_invalid_yaml(t *testing.T) {
	if _, err := NewLoader().LoadAll([]string{"testdata/invalid"}); err == nil {
		t.Fatal("LoadAll() with invalid YAML should return error")
	}
}

func TestLoader_Checksum_deterministic(t *testing.T) {
	l := NewLoader()
	d1, _ := l.LoadFile("testdata/surveys/health.yaml")
	d2, _ := l.LoadFile("testdata/surveys/health.yaml")
	if d1.Checksum != d2.Checksum {
		t.Error("Checksum should be deterministic")
	}
}
