// Package phone normalizes participant phone numbers to international format.
package phone

import (
	"strings"

	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

const (
	minDigits = 8
	maxDigits = 15
)

var separators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "", "\t", "")

// Normalize returns raw as +<countrycode><digits>.
func Normalize(raw string) (string, error) {
	s := separators.Replace(strings.TrimSpace(raw))
	if s == "" {
		return "", apperrors.NewValidation("phone", "is required")
	}
	if !strings.HasPrefix(s, "+") {
		return "", apperrors.NewValidation("phone", "must start with +")
	}

	digits := s[1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", apperrors.NewValidation("phone", "must contain only digits after +")
		}
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", apperrors.NewValidation("phone", "must have between 8 and 15 digits")
	}
	return "+" + digits, nil
}
