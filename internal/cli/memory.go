package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

// Flags shared by the memory commands.
var (
	ownerID   string
	sessionID string
)

func defaultOwner() string {
	if v := os.Getenv("RECALL_OWNER"); v != "" {
		return v
	}
	return "default"
}

// withEngine opens the configured engine for one CLI command.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	eng, _, closeStore, err := openEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeStore()
	defer eng.Stop()

	return fn(ctx, eng)
}

// --- remember command ---

var (
	rememberQuery   bool
	rememberQuality float64
	rememberType    string
	rememberModel   string
)

var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func runRemember(cmd *cobra.Command, args []string) error {
	req := engine.StoreRequest{
		OwnerID:         ownerID,
		SessionID:       sessionID,
		Text:            strings.Join(args, " "),
		IsQuery:         rememberQuery,
		ResponseQuality: rememberQuality,
		ModelUsed:       rememberModel,
		Type:            store.MemoryType(rememberType),
	}
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		rec, err := eng.StoreMemory(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] importance=%.2f composite=%.2f\n",
			rec.ID, rec.Type, rec.Content.Importance, rec.Weights.Composite)
		return nil
	})
}

// --- search command ---

var (
	searchLimit    int
	searchTypes    []string
	searchMin      float64
	searchArchived bool
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Retrieve ranked memories",
	Long:  "Rank an owner's memories against an optional query. With no query, ranking uses recency, importance and session context only.",
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := engine.RetrieveRequest{
		OwnerID:         ownerID,
		SessionID:       sessionID,
		MaxResults:      searchLimit,
		MinImportance:   searchMin,
		IncludeArchived: searchArchived,
		Query:           strings.Join(args, " "),
	}
	for _, t := range searchTypes {
		req.Types = append(req.Types, store.MemoryType(t))
	}

	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		results, err := eng.RetrieveMemories(ctx, req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if searchJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(out, "%d. [%.3f] %s (%s)\n", i+1, r.Score, r.Record.ID, r.Record.Type)
			fmt.Fprintf(out, "   %s\n\n", r.Record.Content.Compressed)
		}
		return nil
	})
}

// --- context command ---

var contextTokens int

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Assemble token-budgeted context",
	RunE:  runContext,
}

func runContext(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		text, err := eng.GetContext(ctx, ownerID, sessionID, contextTokens, query)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	})
}

// --- forget command ---

var forgetAll bool

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Run one forgetting cycle",
	Long:  "Apply the retention rules once to the owner's memories, or to every owner with --all.",
	RunE:  runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	owner := ownerID
	if forgetAll {
		owner = ""
	}
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		report, err := eng.RunForgettingCycle(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, archived %d, reclaimed %d tokens\n",
			report.Scanned, report.Removed, report.Archived, report.TokensReclaimed)
		if report.Errors > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d records could not be processed\n", report.Errors)
		}
		return nil
	})
}

func init() {
	for _, c := range []*cobra.Command{rememberCmd, searchCmd, contextCmd, forgetCmd} {
		c.Flags().StringVarP(&ownerID, "owner", "o", defaultOwner(), "Owner id")
	}
	for _, c := range []*cobra.Command{rememberCmd, searchCmd, contextCmd} {
		c.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	}

	rememberCmd.Flags().BoolVar(&rememberQuery, "query", false, "Text is a user query")
	rememberCmd.Flags().Float64VarP(&rememberQuality, "quality", "q", 0.5, "Response quality in [0,1]")
	rememberCmd.Flags().StringVarP(&rememberType, "type", "t", "", "Override the classified memory type")
	rememberCmd.Flags().StringVar(&rememberModel, "model", "", "Model that produced the text")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "Restrict to memory types")
	searchCmd.Flags().Float64Var(&searchMin, "min-importance", 0, "Minimum composite weight")
	searchCmd.Flags().BoolVar(&searchArchived, "archived", false, "Include archived memories")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")

	contextCmd.Flags().IntVar(&contextTokens, "max-tokens", 1000, "Token budget")

	forgetCmd.Flags().BoolVar(&forgetAll, "all", false, "Sweep every owner")
}
