package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/twinbud/pkg/cli"
	"github.com/haivivi/twinbud/pkg/ipc"
)

const appName = "twinbud"

var (
	cfgFile      string
	contextName  string
	logLevel     string
	outputFormat string
	socketPath   string
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "twinbud",
	Short: "Simulated true-wireless earbud",
	Long: `twinbud runs a simulated earbud and controls it.

Two daemons, a primary and a secondary, keep ANC and leakthrough in step
over a WebSocket peer link. Every other command talks to a running daemon
through its control socket.

Configuration is stored in ~/.twinbud/twinbud/ and supports one context per
earbud.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		var err error
		globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
		if err != nil {
			return fmt.Errorf("%s config: %w", appName, err)
		}
		return nil
	},
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.twinbud/twinbud/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context to use (default is current context)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json, table")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket (default from context)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(featureCommand("anc", "Control active noise cancellation"))
	rootCmd.AddCommand(featureCommand("leakthrough", "Control leakthrough (ambient sound)"))
	rootCmd.AddCommand(caseCmd)
	rootCmd.AddCommand(a2dpCmd)
	rootCmd.AddCommand(scoCmd)
	rootCmd.AddCommand(toneCmd)
	rootCmd.AddCommand(tuningCmd)
	rootCmd.AddCommand(calibrationCmd)
}

func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// getContext returns the context named by the flag or the current one.
func getContext() (*cli.Context, error) {
	return globalConfig.ResolveContext(contextName)
}

// resolveSocket returns the control socket of the selected context.
func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	ctx, err := getContext()
	if err != nil {
		return ipc.DefaultSocketPath(appName)
	}
	return contextSocket(ctx)
}

func contextSocket(ctx *cli.Context) string {
	if ctx.Socket != "" {
		return ctx.Socket
	}
	return ipc.DefaultSocketPath(appName + "-" + ctx.Name)
}

// request sends req to the daemon and prints the resulting status.
func request(cmd *cobra.Command, req ipc.Request) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	c := &ipc.Client{Path: resolveSocket()}
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status == nil {
		return nil
	}
	return cli.Output(resp.Status, cli.OutputOptions{
		Format: cli.OutputFormat(outputFormat),
		Writer: cmd.OutOrStdout(),
	})
}
