// Package validation holds the field rules applied to user input before any
// collaborator is called. Every function is total over its string input.
package validation

import (
	"fmt"
	"strings"

	"github.com/pitabwire/sarvekshan/model"
)

// Required lengths of the digit-only fields.
const (
	PhoneLength        = 10
	OTPLength          = 6
	FacilityCodeLength = 11
)

// Rule identifies a digit-only input rule.
type Rule int

// Known rules.
const (
	RulePhone Rule = iota
	RuleOTP
	RuleFacilityCode
)

func (r Rule) length() int {
	switch r {
	case RulePhone:
		return PhoneLength
	case RuleOTP:
		return OTPLength
	case RuleFacilityCode:
		return FacilityCodeLength
	}
	return -1
}

// IsValidPhone reports whether s is exactly 10 decimal digits.
func IsValidPhone(s string) bool {
	return isDigits(s, PhoneLength)
}

// IsValidOTP reports whether s is exactly 6 decimal digits.
func IsValidOTP(s string) bool {
	return isDigits(s, OTPLength)
}

// IsValidFacilityCode reports whether s is exactly 11 decimal digits.
func IsValidFacilityCode(s string) bool {
	return isDigits(s, FacilityCodeLength)
}

// IsRequiredAnswerSatisfied reports whether value is non-empty once
// surrounding whitespace is trimmed. An absent answer is the empty string.
func IsRequiredAnswerSatisfied(value string) bool {
	return strings.TrimSpace(value) != ""
}

// Check applies rule to s and returns a VALIDATION_ERROR naming field when
// it fails.
func Check(field string, rule Rule, s string) error {
	n := rule.length()
	if isDigits(s, n) {
		return nil
	}
	return model.NewValidationError([]model.FieldError{{
		Field:   field,
		Code:    model.FieldFormat,
		Message: fmt.Sprintf("%s must be exactly %d digits", field, n),
	}})
}

// isDigits counts bytes, so any non-ASCII rune makes the check fail.
func isDigits(s string, n int) bool {
	if n < 0 || len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
