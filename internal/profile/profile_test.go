package profile

import (
	"strings"
	"testing"

	"github.com/pitabwire/sarvekshan/model"
)

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := LoadDirectory("testdata/regions.yaml")
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}
	return dir
}

func detailFields(err error) []string {
	var fields []string
	if env, ok := err.(*model.ErrorEnvelope); ok {
		for _, d := range env.Details {
			fields = append(fields, d.Field)
		}
	}
	return fields
}

// --- Directory ---

func TestLoadDirectory(t *testing.T) {
	dir := loadTestDirectory(t)

	regions := dir.Regions()
	if len(regions) != 3 {
		t.Fatalf("Regions() = %d, want 3", len(regions))
	}
	if regions[0].ID != "uttar-pradesh" || regions[2].ID != "bihar" {
		t.Errorf("region order = %s, %s", regions[0].ID, regions[2].ID)
	}

	up, ok := dir.Region("uttar-pradesh")
	if !ok {
		t.Fatal("Region(uttar-pradesh) not found")
	}
	if d, ok := up.District("lucknow"); !ok || d.Name != "Lucknow" {
		t.Errorf("District(lucknow) = %+v, %v", d, ok)
	}
	if _, ok := up.District("pune"); ok {
		t.Error("District(pune) found in Uttar Pradesh")
	}
	if _, ok := dir.Region("kerala"); ok {
		t.Error("Region(kerala) found")
	}
}

func TestDirectory_regionsAreCopies(t *testing.T) {
	dir := loadTestDirectory(t)
	regions := dir.Regions()
	regions[0].Districts[0].ID = "changed"

	up, _ := dir.Region("uttar-pradesh")
	if up.Districts[0].ID != "lucknow" {
		t.Errorf("Districts[0].ID = %q after caller mutation", up.Districts[0].ID)
	}
}

func TestLoadDirectory_errors(t *testing.T) {
	if _, err := LoadDirectory("testdata/missing.yaml"); err == nil {
		t.Error("LoadDirectory(missing) = nil error, want error")
	}
	_, err := LoadDirectory("testdata/duplicate.yaml")
	if err == nil || !strings.Contains(err.Error(), `region "bihar" is declared twice`) {
		t.Errorf("LoadDirectory(duplicate) error = %v", err)
	}
}

func TestNewDirectory_rejectsBadDistricts(t *testing.T) {
	_, err := NewDirectory([]Region{{
		ID:        "maharashtra",
		Districts: []District{{ID: "pune"}, {ID: "pune"}, {ID: " "}},
	}})
	if err == nil {
		t.Fatal("NewDirectory() = nil error, want error")
	}
	for _, want := range []string{`district "pune" is declared twice`, "districts[2]: id is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNilDirectory(t *testing.T) {
	var dir *Directory
	if got := dir.Regions(); got != nil {
		t.Errorf("Regions() = %v, want nil", got)
	}
	if _, ok := dir.Region("bihar"); ok {
		t.Error("Region() on nil directory found a region")
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	dir := loadTestDirectory(t)
	valid := model.Profile{Name: "Asha Devi", Gender: model.GenderFemale, State: "uttar-pradesh", District: "lucknow"}

	tests := []struct {
		name   string
		mutate func(*model.Profile)
		fields []string
	}{
		{"valid", func(*model.Profile) {}, nil},
		{"state without districts", func(p *model.Profile) { p.State, p.District = "bihar", "" }, nil},
		{"blank district", func(p *model.Profile) { p.District = "" }, nil},
		{"district of another state", func(p *model.Profile) { p.District = "pune" }, []string{FieldDistrict}},
		{"district in state without districts", func(p *model.Profile) { p.State = "bihar" }, []string{FieldDistrict}},
		{"unknown state", func(p *model.Profile) { p.State = "kerala" }, []string{FieldState}},
		{"missing everything", func(p *model.Profile) { *p = model.Profile{} }, []string{FieldName, FieldGender, FieldState}},
		{"blank name", func(p *model.Profile) { p.Name = "   " }, []string{FieldName}},
		{"bad gender", func(p *model.Profile) { p.Gender = "unknown" }, []string{FieldGender}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := Validate(p, dir)
			if tt.fields == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !model.IsCode(err, model.ErrValidationError) {
				t.Fatalf("Validate() error = %v, want VALIDATION_ERROR", err)
			}
			got := detailFields(err)
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("failing fields = %v, want %v", got, tt.fields)
			}
		})
	}
}

// --- Apply ---

func TestApply(t *testing.T) {
	p := model.Profile{Name: "Asha", Gender: model.GenderFemale, State: "uttar-pradesh", District: "lucknow"}

	got, err := Apply(p, FieldName, "  Asha Devi ")
	if err != nil || got.Name != "Asha Devi" {
		t.Errorf("Apply(name) = %+v, %v", got, err)
	}

	got, _ = Apply(p, FieldGender, "Other")
	if got.Gender != model.GenderOther {
		t.Errorf("Gender = %q, want other", got.Gender)
	}

	got, _ = Apply(p, FieldState, "maharashtra")
	if got.State != "maharashtra" || got.District != "" {
		t.Errorf("Apply(state) = %+v, want district cleared", got)
	}

	got, _ = Apply(p, FieldState, "uttar-pradesh")
	if got.District != "lucknow" {
		t.Errorf("District = %q after setting the same state, want kept", got.District)
	}

	got, _ = Apply(p, FieldDistrict, "agra")
	if got.District != "agra" {
		t.Errorf("District = %q, want agra", got.District)
	}

	if _, err := Apply(p, "phone", "1"); !model.IsCode(err, model.ErrValidationError) {
		t.Errorf("Apply(phone) error = %v, want VALIDATION_ERROR", err)
	}
}
