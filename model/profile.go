package model

import "time"

// Gender is the self-reported gender of a field worker.
type Gender string

// Genders.
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Profile is the editable record of the signed-in field worker. State and
// District hold region ids from the region directory; District is either
// blank or one of the districts of State.
type Profile struct {
	Subject   string    `json:"subject"`
	Name      string    `json:"name"`
	Gender    Gender    `json:"gender"`
	State     string    `json:"state"`
	District  string    `json:"district,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
