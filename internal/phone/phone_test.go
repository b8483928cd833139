package phone

import (
	"testing"

	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"+33612345678":        "+33612345678",
		" +33 6 12 34 56 78 ": "+33612345678",
		"+1 (555) 123-4567":   "+15551234567",
		"+44.20.7946.0958":    "+442079460958",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"0612345678",
		"+1234567",
		"+1234567890123456",
		"+33 6 12 AB 56 78",
	}
	for _, in := range cases {
		if _, err := Normalize(in); !apperrors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("Normalize(%q): expected validation error, got %v", in, err)
		}
	}
}
