package profile

import (
	"fmt"
	"strings"

	"github.com/pitabwire/sarvekshan/model"
)

// Editable profile fields.
const (
	FieldName     = "name"
	FieldGender   = "gender"
	FieldState    = "state"
	FieldDistrict = "district"
)

// Validate checks p against dir and returns a VALIDATION_ERROR listing every
// failing field.
func Validate(p model.Profile, dir *Directory) error {
	var details []model.FieldError

	if strings.TrimSpace(p.Name) == "" {
		details = append(details, model.FieldError{Field: FieldName, Code: model.FieldRequired, Message: "name is required"})
	}

	switch {
	case p.Gender == "":
		details = append(details, model.FieldError{Field: FieldGender, Code: model.FieldRequired, Message: "gender is required"})
	case !p.Gender.Valid():
		details = append(details, model.FieldError{Field: FieldGender, Code: model.FieldFormat, Message: "gender must be one of male, female, other"})
	}

	region, known := dir.Region(p.State)
	switch {
	case p.State == "":
		details = append(details, model.FieldError{Field: FieldState, Code: model.FieldRequired, Message: "state is required"})
	case !known:
		details = append(details, model.FieldError{Field: FieldState, Code: model.FieldFormat, Message: fmt.Sprintf("unknown state %q", p.State)})
	case p.District != "":
		if _, ok := region.District(p.District); !ok {
			details = append(details, model.FieldError{
				Field:   FieldDistrict,
				Code:    model.FieldFormat,
				Message: fmt.Sprintf("district %q is not in %s", p.District, region.Name),
			})
		}
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// Apply returns p with field set to value. Changing the state clears the
// district, since districts belong to a state.
func Apply(p model.Profile, field, value string) (model.Profile, error) {
	value = strings.TrimSpace(value)
	switch field {
	case FieldName:
		p.Name = value
	case FieldGender:
		p.Gender = model.Gender(strings.ToLower(value))
	case FieldState:
		if value != p.State {
			p.District = ""
		}
		p.State = value
	case FieldDistrict:
		p.District = value
	default:
		return p, model.NewValidationError([]model.FieldError{{
			Field:   "field",
			Code:    model.FieldFormat,
			Message: fmt.Sprintf("unknown profile field %q; use name, gender, state or district", field),
		}})
	}
	return p, nil
}
