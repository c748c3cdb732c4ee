package telephony

import (
	"strings"
	"testing"
)

func TestRenderAnswerTwiML(t *testing.T) {
	out, err := RenderAnswerTwiML("wss://ai.example.com/media", map[string]string{"call_sid": "CA1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"<Connect>", `<Stream url="wss://ai.example.com/media">`, `name="call_sid"`, `value="CA1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderAnswerTwiMLRequiresStreamURL(t *testing.T) {
	if _, err := RenderAnswerTwiML("  ", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderHangupTwiML(t *testing.T) {
	out, err := RenderHangupTwiML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "<Hangup>") {
		t.Fatalf("missing hangup verb:\n%s", out)
	}
}
