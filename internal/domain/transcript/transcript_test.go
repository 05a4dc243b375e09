package transcript_test

import (
	"reflect"
	"testing"

	"github.com/formpilot/formpilot/internal/domain/transcript"
)

func TestLineFormats(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"user", transcript.UserLine("hello"), "user: hello"},
		{"system", transcript.SystemLine("session restarted"), "system: session restarted"},
		{"assistant plain", transcript.AssistantLine("hi there", ""), "assistant: hi there"},
		{"assistant focused", transcript.AssistantLine("what is your age?", "age"), "assistant: what is your age? [focus: age]"},
		{"form input", transcript.FormInputLine([]string{"name", "age"}), "form_input: [name, age]"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}

	if got := transcript.Tail(lines, 2); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Fatalf("Tail(2) = %v", got)
	}
	if got := transcript.Tail(lines, 10); !reflect.DeepEqual(got, lines) {
		t.Fatalf("Tail(10) = %v", got)
	}
	if got := transcript.Tail(nil, 3); len(got) != 0 {
		t.Fatalf("Tail(nil) = %v", got)
	}
}

func TestLastAssistantAskedQuestion(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  bool
	}{
		{
			"question",
			[]string{"user: hi", "assistant: what is your name?"},
			true,
		},
		{
			"question with focus annotation",
			[]string{"assistant: what is your age? [focus: age]"},
			true,
		},
		{
			"statement",
			[]string{"assistant: thanks, noted."},
			false,
		},
		{
			"later user line does not hide the question",
			[]string{"assistant: your age? [focus: age]", "user: 30"},
			true,
		},
		{
			"no assistant line",
			[]string{"user: hello"},
			false,
		},
		{
			"empty history",
			nil,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transcript.LastAssistantAskedQuestion(tt.lines); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
