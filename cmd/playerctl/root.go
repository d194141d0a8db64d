package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/config"
	"github.com/cory-johannsen/coinroll/internal/game/gift"
	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/session"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/observability"
	"github.com/cory-johannsen/coinroll/internal/storage"
	"github.com/cory-johannsen/coinroll/internal/storage/backend"
)

// backendEnv is the store and registry a command runs against.
type backendEnv struct {
	store    storage.Store
	registry *session.Registry
	close    func() error
}

// opener builds a backendEnv from loaded configuration.
type opener func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backendEnv, error)

// openBackend opens the configured store and lock backend and builds a
// Registry over them.
//
// Postcondition: The returned env's close releases the lock backend and then the store.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backendEnv, error) {
	store, err := backend.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	locker, closeLocker, err := lock.Open(ctx, cfg.Lock, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ids, err := session.NewIDGenerator(cfg.Session.IDStrategy, cfg.Session.IDSecret)
	if err != nil {
		_ = closeLocker()
		_ = store.Close()
		return nil, err
	}
	gifts := gift.NewCoordinator(store, locker, logger)
	registry := session.NewRegistry(store, locker, gifts, ids, session.Config{
		StartingCoins: cfg.Session.StartingCoins,
		StartingRolls: cfg.Session.StartingRolls,
	}, logger)
	return &backendEnv{
		store:    store,
		registry: registry,
		close: func() error {
			return errors.Join(closeLocker(), store.Close())
		},
	}, nil
}

type rootOptions struct {
	configPath string
	output     string
	verbose    bool

	env *backendEnv
	out *output
}

// newRootCmd builds the playerctl command tree. open is called once per
// invocation, before the subcommand runs.
func newRootCmd(open opener, stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "playerctl",
		Short: "Inspect players and the gift ledger",
		Long: `playerctl reads player balances and gift history directly from the
configured store. It uses the same configuration file and COINROLL_
environment overrides as the game server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			out, err := newOutput(opts.output, stdout)
			if err != nil {
				return err
			}
			opts.out = out

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := zap.NewNop()
			if opts.verbose {
				if logger, err = observability.NewLogger(cfg.Logging); err != nil {
					return err
				}
			}
			opts.env, err = open(cmd.Context(), cfg, logger)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.env == nil {
				return nil
			}
			return opts.env.close()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/dev.yaml", "Path to configuration file; empty = defaults and environment only")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "Output format: text, yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(newBalanceCmd(opts))
	rootCmd.AddCommand(newGiftsCmd(opts))
	rootCmd.AddCommand(newLogoutAllCmd(opts))

	return rootCmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <playerId>",
		Short: "Show a player's balances and login status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.env.registry.FindByPlayerID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("player %q: %w", args[0], err)
			}
			return opts.out.balance(s)
		},
	}
}

func newGiftsCmd(opts *rootOptions) *cobra.Command {
	var (
		queued bool
		from   string
	)

	cmd := &cobra.Command{
		Use:   "gifts <playerId>",
		Short: "List gifts addressed to a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if queued && from != "" {
				return errors.New("--queued and --from cannot be combined")
			}
			ctx := cmd.Context()
			recipient := args[0]

			var gifts []*ledger.Gift
			err := storage.WithTx(ctx, opts.env.store, func(tx storage.Tx) error {
				if _, err := tx.PlayerByID(ctx, recipient); err != nil {
					return fmt.Errorf("player %q: %w", recipient, err)
				}
				var err error
				switch {
				case queued:
					gifts, err = tx.QueuedGifts(ctx, recipient)
				case from != "":
					gifts, err = tx.GiftsBetween(ctx, from, recipient)
				default:
					gifts, err = tx.GiftsFor(ctx, recipient)
				}
				return err
			})
			if err != nil {
				return err
			}
			return opts.out.gifts(gifts)
		},
	}

	cmd.Flags().BoolVar(&queued, "queued", false, "Only gifts still awaiting delivery")
	cmd.Flags().StringVar(&from, "from", "", "Only gifts sent by this player")

	return cmd
}

func newLogoutAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout-all",
		Short: "Clear the logged-in flag of every player",
		Long: `logout-all marks every logged-in player as logged out. Run it after a
server crash, when no server process is serving the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.env.registry.LogoutAll(cmd.Context())
			if err != nil {
				return err
			}
			return opts.out.loggedOut(n)
		},
	}
}
