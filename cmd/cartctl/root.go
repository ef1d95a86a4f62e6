package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"cartsync/internal/adapter"
	"cartsync/internal/apiclient"
	"cartsync/internal/browser"
	"cartsync/internal/cartsync"
	"cartsync/internal/state"
)

// sessionKey holds the signed-in user between invocations.
const sessionKey = "cartctl:user"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server      string
	Storage     string
	User        string
	Format      string // "text" | "json"
	Fingerprint string
	Timeout     time.Duration
	Verbose     bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the cartctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Shopping cart client with guest/account sync",
		Long: `cartctl keeps a guest cart in a local storage file and syncs it with a
cartd server once you log in. Logging out leaves a backup that is merged
back on the next login.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "cartd base URL (required for logged-in carts)")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "cartctl.json", "local storage file")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "act as this user for one command instead of the stored session")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Fingerprint, "fingerprint", "", "TLS fingerprint for the server connection (chrome|firefox|safari)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", apiclient.DefaultTimeout, "request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log sync activity to stderr")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewSetQtyCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))

	return cmd
}

// client is one invocation's engine plus the storage it restores from.
type client struct {
	engine  *cartsync.Engine
	storage browser.Storage

	mu      sync.Mutex
	notices []cartsync.Notice
}

// openClient builds the engine and replays the stored session so the cart
// state matches the last invocation.
func openClient(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var tiers []adapter.Tier
	if opts.Server != "" {
		api, err := apiclient.New(apiclient.Config{
			BaseURL:     opts.Server,
			Timeout:     opts.Timeout,
			Fingerprint: opts.Fingerprint,
		}, logger)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, api)
	}

	storage := browser.NewFile(opts.Storage)
	c := &client{storage: storage}
	c.engine = cartsync.New(state.New(), browser.New(storage, logger), tiers, logger, cartsync.Config{
		OperationTimeout: opts.Timeout,
		Notifier: cartsync.NotifierFunc(func(n cartsync.Notice) {
			c.mu.Lock()
			c.notices = append(c.notices, n)
			c.mu.Unlock()
		}),
	})

	user := opts.User
	if user == "" {
		stored, _, err := storage.Get(sessionKey)
		if err != nil {
			logger.Warn("reading stored session failed", slog.String("error", err.Error()))
		}
		user = stored
	}
	if user != "" && opts.Server == "" {
		return nil, fmt.Errorf("--server is required while logged in as %s", user)
	}

	c.engine.Observe(ctx, sessionFor(""))
	if user != "" {
		c.engine.Observe(ctx, sessionFor(user))
	}
	return c, nil
}

// sessionFor returns a resolved session; an empty user is a guest.
func sessionFor(user string) cartsync.Session {
	return cartsync.Session{Resolved: true, Authenticated: user != "", UserID: user}
}

// finish waits for background writes and reports any notices.
func (c *client) finish(cmd *cobra.Command) error {
	c.engine.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notices {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", n.Message())
	}
	if len(c.notices) > 0 {
		return fmt.Errorf("%d cart operation(s) failed", len(c.notices))
	}
	return nil
}
