package commands

import (
	"strings"
	"testing"
)

func TestFeatureCommandTree(t *testing.T) {
	tests := []struct {
		name string
		subs []string
	}{
		{"anc", []string{"gain", "mode", "off", "on"}},
		{"leakthrough", []string{"mode", "off", "on"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := featureCommand(tt.name, "test")
			var got []string
			for _, c := range cmd.Commands() {
				got = append(got, c.Name())
			}
			if strings.Join(got, ",") != strings.Join(tt.subs, ",") {
				t.Errorf("subcommands = %v, want %v", got, tt.subs)
			}
		})
	}
}

func TestModeArgumentValidated(t *testing.T) {
	cmd := featureCommand("leakthrough", "test")
	mode, _, err := cmd.Find([]string{"mode"})
	if err != nil {
		t.Fatal(err)
	}
	for _, arg := range []string{"0", "4", "x"} {
		if err := mode.RunE(mode, []string{arg}); err == nil || !strings.Contains(err.Error(), "mode must be 1..3") {
			t.Errorf("mode %s: err = %v", arg, err)
		}
	}
}
