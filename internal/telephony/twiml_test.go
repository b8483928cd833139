package telephony

import (
	"strings"
	"testing"
)

func TestRenderConferenceJoin(t *testing.T) {
	out, err := RenderConferenceJoin(ConferenceParams{
		Name:                 "conf-prov-s1",
		TimeLimitSeconds:     1200,
		StartOnEnter:         true,
		StatusCallbackURL:    "https://cb.example/webhooks/telephony/conference?sessionId=s1",
		RecordingCallbackURL: "https://cb.example/webhooks/telephony/recording?sessionId=s1",
		Record:               true,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		`<Dial timeLimit="1200">`,
		`startConferenceOnEnter="true"`,
		`endConferenceOnExit="true"`,
		`statusCallbackEvent="start end join leave"`,
		`record="record-from-start"`,
		`sessionId=s1`,
		`>conf-prov-s1</Conference>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %s", want, out)
		}
	}
}

func TestRenderConferenceJoinRequiresName(t *testing.T) {
	if _, err := RenderConferenceJoin(ConferenceParams{}); err == nil {
		t.Fatalf("expected error for empty conference name")
	}
}

func TestRenderConferenceJoinWithoutRecording(t *testing.T) {
	out, err := RenderConferenceJoin(ConferenceParams{Name: "c"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "record=") || strings.Contains(out, "timeLimit") {
		t.Fatalf("unexpected optional attributes: %s", out)
	}
}
