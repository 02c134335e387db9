package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Maintain XP transaction history",
	}
	cmd.AddCommand(newHistoryRebuildCmd(), newHistoryPurgeCmd(), newHistoryCompactCmd())
	return cmd
}

func newHistoryRebuildCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the daily summaries of one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				res, err := a.history.Rebuild(cmd.Context(), command.RebuildHistoryCommand{UserID: userID})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHistoryPurgeCmd() *cobra.Command {
	var (
		userID        string
		olderThan     time.Duration
		before        string
		keepSummaries bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete XP log detail of one user older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := command.PurgeHistoryCommand{
				UserID:        userID,
				OlderThan:     olderThan,
				KeepSummaries: keepSummaries,
			}
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("--before: %w", err)
				}
				c.Before = t
			}
			if c.Before.IsZero() && c.OlderThan <= 0 {
				return errors.New("one of --older-than or --before is required")
			}

			return withApp(cmd, func(a *app) error {
				res, err := a.history.Purge(cmd.Context(), c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window, e.g. 2160h")
	cmd.Flags().StringVar(&before, "before", "", "Explicit RFC3339 cutoff, moved back to the start of its day")
	cmd.Flags().BoolVar(&keepSummaries, "keep-summaries", true, "Rebuild daily summaries before purging detail")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHistoryCompactCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the history of every user once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				r := retention
				if r <= 0 {
					r = a.cfg.History.Retention
				}
				res, err := a.history.CompactAll(cmd.Context(), r)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Retention window (defaults to HISTORY_RETENTION)")
	return cmd
}

// withApp loads configuration, wires the application and runs fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close failed", slog.String("error", err.Error()))
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
