package pipeline

import "github.com/haivivi/twinbud/pkg/feature"

// AEC tuning profiles for leakthrough.
const (
	UCIDLeakthroughMode1 = 10
	UCIDLeakthroughMode2 = 11
	UCIDLeakthroughMode3 = 12

	UCIDNBLeakthroughMode1 = 20
	UCIDNBLeakthroughMode2 = 21
	UCIDNBLeakthroughMode3 = 22

	UCIDWBLeakthroughMode1 = 30
	UCIDWBLeakthroughMode2 = 31
	UCIDWBLeakthroughMode3 = 32

	UCIDSWBLeakthroughMode1 = 40
	UCIDSWBLeakthroughMode2 = 41
	UCIDSWBLeakthroughMode3 = 42

	UCIDUWBLeakthroughMode1 = 50
	UCIDUWBLeakthroughMode2 = 51
	UCIDUWBLeakthroughMode3 = 52
)

var leakthroughUCIDs = [3]int{
	UCIDLeakthroughMode1,
	UCIDLeakthroughMode2,
	UCIDLeakthroughMode3,
}

// Indexed by [mode][ScoMode]. A call without a negotiated class uses the
// wideband profile.
var leakthroughScoUCIDs = [3][5]int{
	{UCIDWBLeakthroughMode1, UCIDNBLeakthroughMode1, UCIDWBLeakthroughMode1, UCIDSWBLeakthroughMode1, UCIDUWBLeakthroughMode1},
	{UCIDWBLeakthroughMode2, UCIDNBLeakthroughMode2, UCIDWBLeakthroughMode2, UCIDSWBLeakthroughMode2, UCIDUWBLeakthroughMode2},
	{UCIDWBLeakthroughMode3, UCIDNBLeakthroughMode3, UCIDWBLeakthroughMode3, UCIDSWBLeakthroughMode3, UCIDUWBLeakthroughMode3},
}

// LeakthroughUCID returns the AEC profile for a leakthrough mode. During a
// voice call the profile also depends on the codec bandwidth class.
func LeakthroughUCID(mode feature.Mode, inCall bool, sco ScoMode) int {
	m := int(mode)
	if m >= len(leakthroughUCIDs) {
		m = 0
	}
	if inCall {
		if sco < NoSco || sco > ScoUWB {
			sco = NoSco
		}
		return leakthroughScoUCIDs[m][sco]
	}
	return leakthroughUCIDs[m]
}
