// ABOUTME: Tests for version constants
// ABOUTME: Checks the release number and the identification sent in handshakes
package version

import (
	"regexp"
	"testing"
)

func TestVersionIsSemver(t *testing.T) {
	if !regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(Version) {
		t.Errorf("expected MAJOR.MINOR.PATCH, got %q", Version)
	}
}

func TestIdentification(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"product", Product, "Auralis"},
		{"manufacturer", Manufacturer, "Resonate Protocol"},
		{"string", String(), "Auralis " + Version},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}
