package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/twinbud/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage twinbud configuration.

Configuration is stored in ~/.twinbud/twinbud/config.yaml`,
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage contexts",
	Long:  `Manage twinbud contexts, one per earbud.`,
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := globalConfig.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("\nCreate one with:")
			fmt.Println("  twinbud config context set left --role=primary --listen=:7100")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tROLE\tLISTEN\tPEER")
		for _, name := range names {
			ctx, _ := globalConfig.GetContext(name)
			current := ""
			if name == globalConfig.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name,
				valueOr(ctx.Role, "primary"), valueOr(ctx.Listen, "-"), valueOr(ctx.PeerURL, "-"))
		}
		return w.Flush()
	},
}

var contextUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch to a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.UseContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Switched to context %q\n", args[0])
		return nil
	},
}

var contextSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a context",
	Long: `Create or update a context with the specified settings.

Examples:
  # The primary bud serves the peer link
  twinbud config context set left --role=primary --listen=:7100

  # The secondary bud dials it
  twinbud config context set right --role=secondary --peer=ws://127.0.0.1:7100/peer

  # Apply leakthrough commands while the bud is in its case
  twinbud config context set right --apply-in-case=leakthrough`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx, err := globalConfig.GetContext(name)
		if err != nil {
			ctx = &cli.Context{Name: name}
		} else {
			copied := *ctx
			ctx = &copied
		}

		flags := cmd.Flags()
		str := func(flag string, dst *string) {
			if flags.Changed(flag) {
				*dst, _ = flags.GetString(flag)
			}
		}
		num := func(flag string, dst *int) {
			if flags.Changed(flag) {
				*dst, _ = flags.GetInt(flag)
			}
		}
		str("role", &ctx.Role)
		str("listen", &ctx.Listen)
		str("peer", &ctx.PeerURL)
		str("socket", &ctx.Socket)
		str("data-dir", &ctx.DataDir)
		str("anc-path", &ctx.AncPath)
		num("settle-delay-ms", &ctx.SettleDelayMs)
		num("sidetone-delay-ms", &ctx.SidetoneDelayMs)
		if flags.Changed("apply-in-case") {
			ctx.ApplyInCase, _ = flags.GetStringSlice("apply-in-case")
		}
		if flags.Changed("tuning-usb-bundle") {
			ctx.TuningUSBBundle, _ = flags.GetBool("tuning-usb-bundle")
		}

		if err := globalConfig.AddContext(name, ctx); err != nil {
			return err
		}
		fmt.Printf("Context %q saved\n", name)
		return nil
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.DeleteContext(args[0]); err != nil {
			return err
		}
		fmt.Printf("Context %q deleted\n", args[0])
		return nil
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show context details",
	Long:  `Show details of a context. If no name is provided, shows the current context.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		ctx, err := globalConfig.ResolveContext(name)
		if err != nil {
			return err
		}

		fmt.Printf("Context: %s", ctx.Name)
		if ctx.Name == globalConfig.CurrentContext {
			fmt.Print(" (current)")
		}
		fmt.Println()
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("Role:           %s\n", valueOr(ctx.Role, "primary"))
		fmt.Printf("Listen:         %s\n", valueOr(ctx.Listen, "(not set)"))
		fmt.Printf("Peer URL:       %s\n", valueOr(ctx.PeerURL, "(not set)"))
		fmt.Printf("Socket:         %s\n", contextSocket(ctx))
		fmt.Printf("Data dir:       %s\n", valueOr(ctx.DataDir, "(default)"))
		fmt.Printf("ANC path:       %s\n", valueOr(ctx.AncPath, "hybrid"))
		fmt.Printf("Apply in case:  %s\n", valueOr(strings.Join(ctx.ApplyInCase, ","), "(none)"))
		fmt.Println()
		fmt.Printf("Config file: %s\n", globalConfig.Path())
		return nil
	},
}

var contextCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalConfig.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}
		fmt.Println(globalConfig.CurrentContext)
		return nil
	},
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	configCmd.AddCommand(contextCmd)

	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextUseCmd)
	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextDeleteCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextCurrentCmd)

	f := contextSetCmd.Flags()
	f.String("role", "", "primary or secondary")
	f.String("listen", "", "peer link listen address, e.g. :7100")
	f.String("peer", "", "peer link URL to dial, e.g. ws://127.0.0.1:7100/peer")
	f.String("socket", "", "control socket path")
	f.String("data-dir", "", "persistent store directory")
	f.String("anc-path", "", "hybrid, feedforward, feedback or none")
	f.Int("settle-delay-ms", 0, "delay before applying a command from the peer")
	f.Int("sidetone-delay-ms", 0, "leakthrough sidetone ramp delay")
	f.StringSlice("apply-in-case", nil, "features applied while in the case (anc, leakthrough)")
	f.Bool("tuning-usb-bundle", false, "load the USB audio bundle for ANC tuning")
}
