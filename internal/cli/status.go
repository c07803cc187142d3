package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/KafClaw/hivemind/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Hivemind Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and gateway status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Hivemind Status")
		fmt.Printf("Version: %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  - Defaults (" + path + " not found)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:  ✗ %v\n", err)
			return
		}
		if dbPath, err := cfg.DatabasePath(); err == nil {
			if _, err := os.Stat(dbPath); err == nil {
				fmt.Println("Store:   ✓ " + dbPath)
			} else {
				fmt.Println("Store:   - not created yet (" + dbPath + ")")
			}
		}

		status, err := fetchStatus(fmt.Sprintf("http://%s/api/v1/status", cfg.Server.Addr()))
		if err != nil {
			fmt.Println("Gateway: " + color.RedString("✗ not reachable") + " (" + cfg.Server.Addr() + ")")
			return
		}
		fmt.Println("Gateway: " + color.GreenString("✓ running") + " (" + cfg.Server.Addr() + ")")
		fmt.Printf("  Uptime:     %vs\n", status["uptime_seconds"])
		fmt.Printf("  Listeners:  %v\n", status["listeners"])
		fmt.Printf("  Embeddings: %v (in flight: %v)\n", status["embedding_enabled"], status["embeddings_in_flight"])
	},
}

func fetchStatus(url string) (map[string]any, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}
