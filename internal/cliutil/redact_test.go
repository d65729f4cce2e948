package cliutil

import "testing"

func TestRedactSecretsMasksLaunchParameters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "separateValue", in: "--port 80 --password hunter2", want: "--port 80 --password [redacted]"},
		{name: "inlineValue", in: "--token=abc --verbose", want: "--token=[redacted] --verbose"},
		{name: "dashedName", in: "--api-key   k1 -v", want: "--api-key   [redacted] -v"},
		{name: "envAssignment", in: "API_KEY='a' PORT=8080", want: "API_KEY='[redacted]' PORT=8080"},
		{name: "quotedSpaces", in: `DB_PASSWORD="two words" --fast`, want: `DB_PASSWORD="[redacted]" --fast`},
		{name: "colonKey", in: "secret: abc123 --port 80", want: "secret: [redacted] --port 80"},
		{name: "flagWithoutValue", in: "--password --verbose", want: "--password --verbose"},
		{name: "template", in: "start ${HOME}/bin", want: "start ${[redacted]}/bin"},
		{name: "plainURL", in: "connect http://host:80 now", want: "connect http://host:80 now"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RedactSecrets(tc.in); got != tc.want {
				t.Fatalf("RedactSecrets(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
