// memctl is an operator CLI for the conversational memory engine. It
// builds the engine's collaborators locally from the environment and
// runs one-shot operations against them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/companionlabs/companion-memory/internal/config"
	"github.com/companionlabs/companion-memory/internal/factory"
	"github.com/companionlabs/companion-memory/internal/manager"
	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/registry"
	"github.com/companionlabs/companion-memory/internal/syncsvc"
)

var (
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "memctl",
		Short: "Operator CLI for the conversational memory engine",
	}
)

type deps struct {
	reg *registry.Registry
	svc *syncsvc.Service
}

// buildDeps assembles the engine from environment configuration. The
// CLI uses synchronous manager initialization so one-shot reads see the
// full history load.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log := zerolog.Nop()

	store, err := factory.NewRecordsStore(cfg)
	if err != nil {
		return nil, err
	}
	long, err := factory.NewLongTermStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	src, err := factory.NewProfileSource(cfg, store)
	if err != nil {
		return nil, err
	}

	mfactory := func(userID string) (*manager.Manager, error) {
		return manager.New(manager.Params{
			UserID:           userID,
			Records:          store,
			LongTerm:         long,
			ProfileSource:    src,
			Exec:             manager.SyncExecutor{},
			Logger:           log,
			ActivityCapacity: cfg.ActivityCapacity,
			DialogueCapacity: cfg.DialogueCapacity,
			ProfileTTL:       cfg.ProfileTTL(),
			HistoryLookback:  cfg.SyncLookback(),
			HistoryLimit:     cfg.SyncBatchLimit,
		})
	}
	reg := registry.New(mfactory, cfg.ManagerIdleTTL(), log)
	svc := syncsvc.New(store, reg, syncsvc.Config{
		Interval:    cfg.SyncInterval(),
		Lookback:    cfg.SyncLookback(),
		BatchLimit:  cfg.SyncBatchLimit,
		Concurrency: cfg.SyncConcurrency,
	}, log)
	return &deps{reg: reg, svc: svc}, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync pass for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			force, _ := cmd.Flags().GetBool("force")
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(d.svc.SyncUser(cmd.Context(), userFlag, force))
		},
	}
	syncCmd.Flags().BoolP("force", "f", false, "Bypass the resync interval")
	rootCmd.AddCommand(syncCmd)

	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Run an opportunistic short-window sync for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			hours, _ := cmd.Flags().GetInt("hours")
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(d.svc.SyncRecent(cmd.Context(), userFlag, hours))
		},
	}
	recentCmd.Flags().Int("hours", 2, "Lookback window in hours")
	rootCmd.AddCommand(recentCmd)

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Print the assembled context block for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			query, _ := cmd.Flags().GetString("query")
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			m, err := d.reg.GetOrCreate(userFlag)
			if err != nil {
				return err
			}
			text, err := m.GetContext(cmd.Context(), manager.ContextRequest{
				ActivityLimit:   10,
				DialogueLimit:   20,
				IncludeLongTerm: query != "",
				Query:           query,
			})
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	contextCmd.Flags().StringP("query", "q", "", "Query for long-term excerpts")
	rootCmd.AddCommand(contextCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search a user's memories across both layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")
			catFlag, _ := cmd.Flags().GetString("category")
			var cat *model.Category
			if catFlag != "" {
				c := model.Category(catFlag)
				if !c.Valid() {
					return fmt.Errorf("unknown category %q", catFlag)
				}
				cat = &c
			}
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			m, err := d.reg.GetOrCreate(userFlag)
			if err != nil {
				return err
			}
			res, err := m.SearchMemories(cmd.Context(), manager.SearchRequest{
				Query:            query,
				Category:         cat,
				Limit:            limit,
				IncludeShortTerm: true,
				IncludeLongTerm:  true,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	searchCmd.Flags().StringP("query", "q", "", "Search query text (required)")
	searchCmd.Flags().Int("limit", 5, "Max hits per layer")
	searchCmd.Flags().String("category", "", "Restrict to one category (activity|dialogue)")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a user's memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			catFlag, _ := cmd.Flags().GetString("category")
			shortTerm, _ := cmd.Flags().GetBool("short-term")
			longTerm, _ := cmd.Flags().GetBool("long-term")
			var cat *model.Category
			if catFlag != "" {
				c := model.Category(catFlag)
				if !c.Valid() {
					return fmt.Errorf("unknown category %q", catFlag)
				}
				cat = &c
			}
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			m, err := d.reg.GetOrCreate(userFlag)
			if err != nil {
				return err
			}
			res, err := m.ClearMemories(cmd.Context(), cat, shortTerm, longTerm)
			if err != nil {
				return err
			}
			d.svc.ResetCursor(userFlag)
			d.reg.Evict(userFlag)
			return printJSON(res)
		},
	}
	clearCmd.Flags().String("category", "", "Restrict to one category (activity|dialogue)")
	clearCmd.Flags().Bool("short-term", true, "Clear the short-term buffers")
	clearCmd.Flags().Bool("long-term", false, "Clear the long-term index")
	rootCmd.AddCommand(clearCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print manager stats for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			m, err := d.reg.GetOrCreate(userFlag)
			if err != nil {
				return err
			}
			return printJSON(m.GetStats())
		},
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
