package transport

import "testing"

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"/status":            "status",
		"/stop now":          "stop",
		"/status@feeder_bot": "status",
		"hello":              "",
		"":                   "",
	}
	for in, want := range tests {
		if got := (Command{Text: in}).Name(); got != want {
			t.Fatalf("Name(%q)=%q want %q", in, got, want)
		}
	}
}
