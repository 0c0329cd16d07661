package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/ipc"
)

// featureCommand builds the on/off/mode[/gain] command tree of a feature.
func featureCommand(name, short string) *cobra.Command {
	kind, err := feature.ParseKind(name)
	if err != nil {
		panic(err)
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long: fmt.Sprintf(`%s

Commands are replicated to the peer bud when the peer link is up. Modes are
numbered from 1 to %d.`, short, kind.Modes()),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "on",
		Short: "Enable " + name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd, ipc.Request{Command: ipc.CmdEnable, Feature: name})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "off",
		Short: "Disable " + name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd, ipc.Request{Command: ipc.CmdDisable, Feature: name})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "mode <1-" + strconv.Itoa(kind.Modes()) + ">",
		Short: "Select the " + name + " mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 || n > kind.Modes() {
				return fmt.Errorf("mode must be 1..%d, got %q", kind.Modes(), args[0])
			}
			mode := uint8(n - 1)
			return request(cmd, ipc.Request{Command: ipc.CmdSetMode, Feature: name, Mode: &mode})
		},
	})
	if kind.HasGain() {
		cmd.AddCommand(&cobra.Command{
			Use:   "gain <0-255>",
			Short: "Set the " + name + " gain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.ParseUint(args[0], 10, 8)
				if err != nil {
					return fmt.Errorf("gain must be 0..255, got %q", args[0])
				}
				gain := uint8(n)
				return request(cmd, ipc.Request{Command: ipc.CmdSetGain, Gain: &gain})
			},
		})
	}
	return cmd
}
