package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/app"
	"github.com/bonafide-ptnguyen/Mealathon/internal/bootstrap"
	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ledger is an opened service plus the cleanup for everything behind it.
type ledger struct {
	service *app.Service
	close   func()
}

type opener func(ctx context.Context) (*ledger, error)

func openLedger(ctx context.Context) (*ledger, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.NewLogger(cfg)
	if cfg.LedgerStore == config.StoreMemory {
		logger.Warn("ledgerctl against the in-memory store only sees its own process")
	}

	repository, closeStore, err := bootstrap.OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	redisClient := bootstrap.OpenRedis(ctx, cfg, logger)
	publisher, brokered := bootstrap.OpenPublisher(cfg, logger)

	service := bootstrap.NewService(cfg, repository, redisClient, logger)
	waitRefunds := bootstrap.WireRefundDispatch(cfg, service, publisher, brokered, logger)

	return &ledger{
		service: service,
		close: func() {
			waitRefunds()
			publisher.Close()
			if redisClient != nil {
				redisClient.Close()
			}
			closeStore()
		},
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the Mealathon donation ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time for the operation")

	// run opens the ledger, runs fn with a bounded context and prints its result as JSON.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) (interface{}, error)) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		l, err := open(ctx)
		if err != nil {
			return err
		}
		defer l.close()

		result, err := fn(ctx, l.service)
		if result != nil {
			if encErr := printJSON(cmd.OutOrStdout(), result); encErr != nil {
				return encErr
			}
		}
		return err
	}

	rootCmd.AddCommand(sweepCmd(run))
	rootCmd.AddCommand(refundsCmd(run))
	rootCmd.AddCommand(repairCmd(run))
	rootCmd.AddCommand(leaderboardCmd(run))
	return rootCmd
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) (interface{}, error)) error

func sweepCmd(run runner) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Settle active campaigns whose end date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--now must be RFC3339: %w", err)
				}
				now = parsed.UTC()
			}
			return run(cmd, func(ctx context.Context, svc *app.Service) (interface{}, error) {
				return svc.Sweep(ctx, now)
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "Evaluate deadlines at this RFC3339 time instead of the current time")
	return cmd
}

func refundsCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refunds",
		Short: "Run or recover refund sagas for failed campaigns",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <campaign-id>",
		Short: "Refund every donation of one failed campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid campaign id %q: %w", args[0], err)
			}
			return run(cmd, func(ctx context.Context, svc *app.Service) (interface{}, error) {
				return svc.RunRefundSaga(ctx, campaignID)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Re-dispatch failed campaigns that still hold unrefunded donations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *app.Service) (interface{}, error) {
				dispatched, err := svc.RecoverRefunds(ctx)
				return map[string]int{"dispatched": dispatched}, err
			})
		},
	})
	return cmd
}

func repairCmd(run runner) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Apply campaign totals and donor aggregates missing for committed donations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cutoff := time.Now().UTC().Add(-olderThan)
			return run(cmd, func(ctx context.Context, svc *app.Service) (interface{}, error) {
				return svc.RepairPropagation(ctx, cutoff)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Minute, "Only repair donations at least this old")
	return cmd
}

func leaderboardCmd(run runner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "leaderboard <campaigns|donors>",
		Short:     "Print a leaderboard",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.LeaderboardCampaigns), string(domain.LeaderboardDonors)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseLeaderboardKind(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, svc *app.Service) (interface{}, error) {
				board, err := svc.GetLeaderboard(ctx, kind, limit)
				if err != nil {
					return nil, err
				}
				return board, nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum entries")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
