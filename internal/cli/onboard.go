package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/hivemind/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("🚀 Hivemind Init")
		return initConfig(cmd.OutOrStdout(), initForce)
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

// initConfig writes the default config to ConfigPath unless one exists
// and force is unset.
func initConfig(out io.Writer, force bool) error {
	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at: %s\n", path)
		fmt.Fprintln(out, "Use --force (-f) to overwrite.")
		return nil
	}
	if err := config.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "Config created at: %s\n", path)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Set memory.embedding.apiKey (or OPENAI_API_KEY) to enable semantic search.")
	fmt.Fprintln(out, "2. Run 'hivemind serve' and point your agent hooks at /api/v1/hooks.")
	return nil
}
