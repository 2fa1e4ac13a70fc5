package main

import (
	"errors"
	"testing"
)

func TestServeCommandValidate(t *testing.T) {
	tests := []struct {
		name     string
		cmd      ServeCommand
		expected error
	}{
		{
			name:     "prod requires a signing secret",
			cmd:      ServeCommand{Environment: "prod"},
			expected: ErrMissingSigningSecret,
		},
		{
			name: "prod with a signing secret is valid",
			cmd:  ServeCommand{Environment: "prod", SlackSigningSecret: "secret"},
		},
		{
			name: "socket mode does not need a signing secret",
			cmd:  ServeCommand{SlackAppToken: "xapp-test"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected error %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestServeCommandReceivesEventsOverHTTPOnlyInProd(t *testing.T) {
	if !(ServeCommand{Environment: "prod"}).receivesEventsOverHTTP() {
		t.Error("expected prod to receive events over HTTP")
	}
	for _, env := range []string{"", "dev", "staging"} {
		if (ServeCommand{Environment: env}).receivesEventsOverHTTP() {
			t.Errorf("expected %q to use Socket Mode", env)
		}
	}
}
