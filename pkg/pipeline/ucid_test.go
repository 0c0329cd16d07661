package pipeline

import (
	"testing"

	"github.com/haivivi/twinbud/pkg/feature"
)

func TestLeakthroughUCID(t *testing.T) {
	tests := []struct {
		mode   feature.Mode
		inCall bool
		sco    ScoMode
		want   int
	}{
		{0, false, NoSco, 10},
		{1, false, ScoNB, 11},
		{2, false, NoSco, 12},
		{0, true, ScoNB, 20},
		{2, true, ScoNB, 22},
		{1, true, ScoWB, 31},
		{1, true, ScoSWB, 41},
		{2, true, ScoUWB, 52},
		{0, true, NoSco, 30},
		{7, false, NoSco, 10},
		{1, true, ScoMode(9), 31},
	}
	for _, tt := range tests {
		got := LeakthroughUCID(tt.mode, tt.inCall, tt.sco)
		if got != tt.want {
			t.Errorf("LeakthroughUCID(%d, %v, %s) = %d, want %d", tt.mode, tt.inCall, tt.sco, got, tt.want)
		}
	}
}

func TestScoModeSampleRate(t *testing.T) {
	for _, m := range []ScoMode{ScoNB, ScoWB, ScoSWB, ScoUWB} {
		back, err := ParseScoMode(m.String())
		if err != nil || back != m {
			t.Errorf("ParseScoMode(%q) = %v, %v", m, back, err)
		}
		if m.SampleRate() <= 0 {
			t.Errorf("%s sample rate = %d", m, m.SampleRate())
		}
	}
	if _, err := ParseScoMode("hd"); err == nil {
		t.Error("ParseScoMode(hd) should fail")
	}
}
