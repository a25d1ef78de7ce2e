package live_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

func TestError_InsufficientBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *live.Error
		want bool
	}{
		{&live.Error{Code: "insufficient_quota", Message: "You exceeded your quota"}, true},
		{&live.Error{Code: "insufficient_balance"}, true},
		{&live.Error{Message: "Wallet Balance is too low to start the call"}, true},
		{&live.Error{Code: "rate_limit_exceeded", Message: "slow down"}, false},
		{&live.Error{Message: "socket closed"}, false},
	}
	for _, tc := range tests {
		if got := tc.err.InsufficientBalance(); got != tc.want {
			t.Errorf("%v: InsufficientBalance = %v, want %v", tc.err, got, tc.want)
		}
		wrapped := fmt.Errorf("call: %w", tc.err)
		if got := errors.Is(wrapped, live.ErrInsufficientBalance); got != tc.want {
			t.Errorf("%v: errors.Is = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestEventType_String(t *testing.T) {
	t.Parallel()
	if got := live.EventCallStart.String(); got != "call-start" {
		t.Errorf("got %q", got)
	}
	if got := live.EventType(99).String(); got != "EventType(99)" {
		t.Errorf("got %q", got)
	}
}

func TestAssistantConfig_Render(t *testing.T) {
	t.Parallel()
	cfg := live.AssistantConfig{Variables: map[string]string{"topic": "Photosynthesis", "style": "casual"}}
	got := cfg.Render("Lesson on {{topic}} in a {{style}} tone, {{unknown}} stays")
	want := "Lesson on Photosynthesis in a casual tone, {{unknown}} stays"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
	if got := (live.AssistantConfig{}).Render("{{topic}}"); got != "{{topic}}" {
		t.Errorf("no variables: got %q", got)
	}
}
