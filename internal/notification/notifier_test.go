package notification

import "testing"

func TestFallbackTextSubstitutesVars(t *testing.T) {
	got := FallbackText(TemplateCompletedClient, map[string]string{"duration": "3"})
	if got != "Your call lasted 3 minutes. Thank you!" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestFallbackTextUnknownTemplate(t *testing.T) {
	if got := FallbackText("nope", nil); got == "" {
		t.Fatalf("expected generic fallback text")
	}
}

func TestEveryTemplateHasFallback(t *testing.T) {
	ids := []string{
		TemplateProviderUnavailable, TemplateMissedProvider, TemplateMissedClient,
		TemplateClientUnavailable, TemplatePaymentInvalid, TemplateInterruptedRefund,
		TemplateInterruptedProvider, TemplateInterruptedClientAck, TemplateFailedRefund,
		TemplateCompletedClient, TemplateCompletedProvider, TemplateCancelled,
	}
	for _, id := range ids {
		if _, ok := fallbackText[id]; !ok {
			t.Fatalf("template %s has no fallback text", id)
		}
	}
}
