// Package ipc is the local control socket of the twinbud daemon: one JSON
// request and one JSON response per unix socket connection.
package ipc

import (
	"os"
	"path/filepath"

	"github.com/haivivi/twinbud/pkg/earbud"
)

// Commands.
const (
	CmdStatus         = "status"
	CmdEnable         = "enable"
	CmdDisable        = "disable"
	CmdSetMode        = "set_mode"
	CmdSetGain        = "set_gain"
	CmdInCase         = "in_case"
	CmdA2dpStart      = "a2dp_start"
	CmdA2dpStop       = "a2dp_stop"
	CmdScoStart       = "sco_start"
	CmdScoStop        = "sco_stop"
	CmdTone           = "tone"
	CmdTuningStart    = "tuning_start"
	CmdTuningStop     = "tuning_stop"
	CmdCalibration    = "calibration"
	CmdEndCalibration = "end_calibration"
)

// Request is sent from a client to the daemon.
type Request struct {
	Command string `json:"command"`
	Feature string `json:"feature,omitempty"` // "anc" | "leakthrough"

	// Mode is zero-based.
	Mode *uint8 `json:"mode,omitempty"`
	Gain *uint8 `json:"gain,omitempty"`

	On         bool   `json:"on,omitempty"`
	Forwarding bool   `json:"forwarding,omitempty"`
	Sco        string `json:"sco,omitempty"` // nb | wb | swb | uwb
	DurationMs int    `json:"duration_ms,omitempty"`
	Rate       int    `json:"rate,omitempty"`
}

// Response is sent from the daemon back to the client. Status is the
// device status after the command was queued.
type Response struct {
	OK             bool           `json:"ok"`
	Error          string         `json:"error,omitempty"`
	Status         *earbud.Status `json:"status,omitempty"`
	ProductionTest bool           `json:"production_test,omitempty"`
}

// DefaultSocketPath returns the socket path for a daemon named name.
func DefaultSocketPath(name string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = "twinbud"
	}
	return filepath.Join(dir, name+".sock")
}
