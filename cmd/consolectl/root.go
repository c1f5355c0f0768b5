package main

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-console-auth"
	"github.com/goliatone/go-console-auth/gateway"
	"github.com/goliatone/go-console-auth/logging"
	"github.com/goliatone/go-console-auth/repository"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var (
	configPath string
	apiURL     string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "consolectl",
	Short:         "Operate the console session from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "identity API base URL (overrides "+auth.EnvAPIBaseURL+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// client bundles what every subcommand needs
type client struct {
	opts     auth.Options
	db       *bun.DB
	store    *repository.CredentialRepository
	gateway  *gateway.Client
	sessions *auth.SessionManager
	policy   *auth.Policy
}

func newClient(ctx context.Context) (*client, error) {
	opts, err := auth.LoadOptions(configPath)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		opts.APIBaseURL = apiURL
		opts = opts.WithDefaults()
	}
	opts.Debug = opts.Debug || debug

	logger := logging.New("consolectl", opts.Debug)

	db, err := repository.Open(opts.Database.DSN)
	if err != nil {
		return nil, err
	}

	store := repository.NewCredentialRepository(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate credentials: %w", err)
	}

	gw, err := gateway.NewFromConfig(opts, store,
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithDebug(opts.Debug),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sessions := auth.NewSessionManager(gw, store,
		auth.WithSessionConfig(opts),
		auth.WithSessionLogger(logger.Named("session")),
	)

	catalog := auth.NewCachedRoleCatalog(gw, opts.GetRoleCatalogTTL()).
		WithLogger(logger.Named("catalog"))

	policy := auth.NewPolicy(
		auth.WithPolicyBypass(sessions.Bypass()),
		auth.WithPolicyCatalog(catalog),
		auth.WithPolicyLogger(logger.Named("policy")),
	)

	return &client{
		opts:     opts,
		db:       db,
		store:    store,
		gateway:  gw,
		sessions: sessions,
		policy:   policy,
	}, nil
}

// currentUser bootstraps the session and resolves derived permissions
func (c *client) currentUser(ctx context.Context) (*auth.User, error) {
	user, err := c.sessions.Bootstrap(ctx, "/")
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("not signed in, run: consolectl login")
	}
	return c.policy.Resolve(ctx, user), nil
}

func (c *client) Close(ctx context.Context) {
	_ = c.sessions.Close(ctx)
	_ = c.db.Close()
}
