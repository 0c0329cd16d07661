package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/twinbud/pkg/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the earbud status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, ipc.Request{Command: ipc.CmdStatus})
	},
}

var caseCmd = &cobra.Command{
	Use:       "case <in|out>",
	Short:     "Put the bud in its case or take it out",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"in", "out"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, ipc.Request{Command: ipc.CmdInCase, On: args[0] == "in"})
	},
}

var (
	flagForwarding bool
	flagCodec      string
	flagDurationMs int
	flagRate       int
)

var a2dpCmd = &cobra.Command{
	Use:   "a2dp",
	Short: "Start or stop music playback",
}

var scoCmd = &cobra.Command{
	Use:   "sco",
	Short: "Start or stop a voice call",
}

var tuningCmd = &cobra.Command{
	Use:   "tuning",
	Short: "Start or stop ANC tuning over USB",
}

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Enter or end ANC production test mode",
}

var toneCmd = &cobra.Command{
	Use:   "tone",
	Short: "Play a prompt tone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, ipc.Request{Command: ipc.CmdTone, DurationMs: flagDurationMs})
	},
}

// simple returns a subcommand that sends a fixed request built by build.
func simple(use, short string, build func() ipc.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd, build())
		},
	}
}

func init() {
	a2dpStart := simple("start", "Start music playback", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdA2dpStart, Forwarding: flagForwarding}
	})
	a2dpStart.Flags().BoolVar(&flagForwarding, "forwarding", false, "forward audio to the peer bud")
	a2dpCmd.AddCommand(a2dpStart)
	a2dpCmd.AddCommand(simple("stop", "Stop music playback", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdA2dpStop}
	}))

	scoStart := simple("start", "Start a voice call", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdScoStart, Sco: flagCodec, Forwarding: flagForwarding}
	})
	scoStart.Flags().StringVar(&flagCodec, "codec", "wb", "codec bandwidth: nb, wb, swb, uwb")
	scoStart.Flags().BoolVar(&flagForwarding, "forwarding", false, "forward the call to the peer bud")
	scoCmd.AddCommand(scoStart)
	scoCmd.AddCommand(simple("stop", "End the voice call", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdScoStop}
	}))

	tuningStart := simple("start", "Start ANC tuning", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdTuningStart, Rate: flagRate}
	})
	tuningStart.Flags().IntVar(&flagRate, "rate", 48000, "USB sample rate")
	tuningCmd.AddCommand(tuningStart)
	tuningCmd.AddCommand(simple("stop", "Stop ANC tuning", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdTuningStop}
	}))

	calibrationCmd.AddCommand(simple("start", "Set the production test flag", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdCalibration}
	}))
	calibrationCmd.AddCommand(simple("end", "Clear the production test flag", func() ipc.Request {
		return ipc.Request{Command: ipc.CmdEndCalibration}
	}))

	toneCmd.Flags().IntVar(&flagDurationMs, "duration", 500, "tone duration in milliseconds")
}
