package cli

import (
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/hivemind/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _     _                       _           _\n" +
		" | |__ (_)_   _____ _ __ ___  (_)_ __   __| |\n" +
		" | '_ \\| \\ \\ / / _ \\ '_ ` _ \\ | | '_ \\ / _` |\n" +
		" | | | | |\\ V /  __/ | | | | || | | | | (_| |\n" +
		" |_| |_|_| \\_/ \\___|_| |_| |_||_|_| |_|\\__,_|\n"

	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Hivemind - shared memory for coding agent swarms",
	Long:  color.CyanString(logo) + "\nCoordinates sessions, subagents, tasks and observations across agent runs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if p := strings.TrimSpace(configFlag); p != "" {
			_ = os.Setenv("HIVEMIND_CONFIG", p)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.hivemind/config.json)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(initCmd)
}
