package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/KafClaw/hivemind/internal/config"
	"github.com/KafClaw/hivemind/internal/memory"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the observation memory",
}

var (
	backfillBatch int
	backfillWatch bool

	searchProject string
	searchType    string
	searchAgent   string
	searchLimit   int
	searchDays    int
	searchJSON    bool

	candidatesProject string
)

var memoryBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed observations that have no vector yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if !rt.memory.EmbeddingEnabled() {
			return fmt.Errorf("embeddings are disabled; set memory.embedding.enabled and an api key or base")
		}
		if backfillWatch {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			b := memory.NewBackfiller(rt.memory, memory.BackfillerConfig{
				Interval:  rt.cfg.Memory.BackfillInterval.Duration,
				BatchSize: batchOrDefault(backfillBatch, rt.cfg),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Watching for unembedded observations every %s (Ctrl-C to stop)\n", rt.cfg.Memory.BackfillInterval)
			go b.Run(ctx)
			<-ctx.Done()
			b.Stop()
			return nil
		}
		n, err := backfillAll(cmd.Context(), rt.memory, batchOrDefault(backfillBatch, rt.cfg))
		fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d observation(s)\n", n)
		return err
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search observations by meaning or keyword",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return runMemorySearch(cmd.Context(), rt, strings.Join(args, " "), cmd.OutOrStdout())
	},
}

var memoryCandidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List concepts recurring often enough to promote",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		projectID, err := resolveProjectArg(cmd.Context(), rt, candidatesProject)
		if err != nil {
			return err
		}
		if projectID == "" {
			return fmt.Errorf("no registered project for %q", candidatesProject)
		}
		cands, err := rt.memory.PromotionCandidates(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(cands) == 0 {
			fmt.Fprintln(out, "No promotion candidates.")
		}
		for _, c := range cands {
			fmt.Fprintf(out, "%s  %d observations %v\n", color.CyanString(c.Concept), len(c.ObservationIDs), c.ObservationIDs)
		}
		return nil
	},
}

func init() {
	memoryBackfillCmd.Flags().IntVar(&backfillBatch, "batch", 0, "rows per pass (default from config)")
	memoryBackfillCmd.Flags().BoolVar(&backfillWatch, "watch", false, "keep running and backfill on the configured interval")

	memorySearchCmd.Flags().StringVar(&searchProject, "project", "", "project id or path (default: current directory)")
	memorySearchCmd.Flags().StringVar(&searchType, "type", "", "observation type filter")
	memorySearchCmd.Flags().StringVar(&searchAgent, "agent", "", "agent name filter")
	memorySearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (default from config)")
	memorySearchCmd.Flags().IntVar(&searchDays, "days", 0, "only the last N days (default from config, -1 for all)")
	memorySearchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")

	memoryCandidatesCmd.Flags().StringVar(&candidatesProject, "project", "", "project id or path (default: current directory)")

	memoryCmd.AddCommand(memoryBackfillCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryCandidatesCmd)
}

// loadRuntime loads config, installs logging and opens the store.
func loadRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return openRuntime(cfg)
}

func batchOrDefault(n int, cfg *config.Config) int {
	if n > 0 {
		return n
	}
	return cfg.Memory.BackfillBatch
}

// backfillAll runs passes until one embeds nothing.
func backfillAll(ctx context.Context, svc *memory.Service, batch int) (int, error) {
	total := 0
	for {
		n, err := svc.Backfill(ctx, batch)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// resolveProjectArg accepts a project id or a path inside a registered
// project. An empty arg means the working directory.
func resolveProjectArg(ctx context.Context, rt *runtime, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		arg = wd
	}
	if !strings.ContainsRune(arg, filepath.Separator) {
		return arg, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	return rt.store.ResolveProjectByPath(ctx, abs)
}

func runMemorySearch(ctx context.Context, rt *runtime, query string, out io.Writer) error {
	// Outside any registered project the search spans all projects.
	projectID, err := resolveProjectArg(ctx, rt, searchProject)
	if err != nil {
		return err
	}
	results, err := rt.memory.Search(ctx, memory.SearchQuery{
		ProjectID: projectID,
		Query:     query,
		Type:      searchType,
		AgentName: searchAgent,
		Limit:     searchLimit,
		Days:      searchDays,
	})
	if err != nil {
		return err
	}
	if searchJSON {
		if results == nil {
			results = []memory.Observation{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No observations found.")
		return nil
	}
	for _, o := range results {
		fmt.Fprintf(out, "#%d [%s] %s  %s\n", o.ID, color.YellowString(o.Type), o.Title, o.CreatedAt.Format("2006-01-02 15:04"))
		if o.Subtitle != "" {
			fmt.Fprintf(out, "    %s\n", o.Subtitle)
		}
	}
	return nil
}
