package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/catalog"
	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/jobs"
	"github.com/saltyorg/quicksell/internal/logging"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/notification"
	"github.com/saltyorg/quicksell/internal/schema"
	"github.com/saltyorg/quicksell/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port      int
	bind      string
	verbosity int

	// Timeout flags (advanced)
	requestTimeout time.Duration
	httpIdle       time.Duration

	// Job schedules
	expirySchedule   string
	optimizeSchedule string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "quicksell",
		Short:        "Quicksell - Marketplace backend",
		Long:         `Quicksell serves the marketplace API: accounts, listings, categories and chats.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Reconcile the schema and start the API server",
		RunE:  serve,
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (or set PORT env var, default 8000)")
	serveCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	serveCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "Upper bound for handling one API request")
	serveCmd.Flags().DurationVar(&httpIdle, "http-idle-timeout", 120*time.Second, "How long keep-alive connections stay open between requests")
	serveCmd.Flags().StringVar(&expirySchedule, "expiry-schedule", jobs.DefaultExpirySchedule, "Cron schedule for closing expired listings (empty disables)")
	serveCmd.Flags().StringVar(&optimizeSchedule, "optimize-schedule", jobs.DefaultOptimizeSchedule, "Cron schedule for refreshing planner statistics (empty disables)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date and exit",
		RunE:  migrate,
	}

	vacuumCmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim unused database space and exit",
		RunE:  vacuum,
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, vacuumCmd, &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quicksell %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads the configuration, sets up logging and connects to the
// store. Every failure here is fatal for the caller.
func bootstrap(ctx context.Context) (*config.Config, *database.Manager, error) {
	cfg, err := config.Load(config.OSEnv{})
	if err != nil {
		return nil, nil, err
	}

	level := logging.LevelFromVerbosity(verbosity, cfg.LogLevel)
	logging.Apply(level, config.NewLoader(config.OSEnv{}), cfg.LogFile)

	db := database.NewManager(cfg.Database)
	if err := db.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func reconcile(ctx context.Context, db *database.Manager, m *models.Models) (*schema.Plan, error) {
	return schema.NewReconciler(db.DB(), m.Registry).Reconcile(ctx)
}

func migrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := reconcile(ctx, db, models.New())
	if err != nil {
		return err
	}
	fmt.Print(plan.String())
	if len(plan.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, "%d undeclared schema objects need a manual migration\n", len(plan.Skipped))
	}
	return nil
}

func vacuum(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Vacuum(ctx); err != nil {
		return err
	}
	log.Info().Msg("Database vacuumed")
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Port
	}

	timeouts := config.DefaultTimeoutConfig()
	timeouts.Request = requestTimeout
	timeouts.HTTPIdle = httpIdle
	config.SetGlobalTimeouts(timeouts)

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("driver", cfg.Database.Driver).
		Msg("Starting Quicksell")

	m := models.New()
	if _, err := reconcile(ctx, db, m); err != nil {
		log.Fatal().Err(err).Msg("Failed to reconcile database schema")
	}

	store := catalog.NewStore(m.Categories)
	if err := seedCategories(ctx, db, store, cfg.Taxonomy); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed categories")
	}

	scheduler := jobs.NewScheduler(db, m, jobs.Config{
		ExpirySchedule:   expirySchedule,
		OptimizeSchedule: optimizeSchedule,
	})
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	if started := notifier.Start(); !started {
		log.Warn().Msg("Notification manager not started (no webhook configured); password reset codes will not be delivered")
	}
	defer notifier.Stop()

	authService := auth.NewService(m, cfg.SecretKey)
	server := web.NewServer(db, m, authService, store, port, bind)
	server.SetNotifier(notifier)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		// Expire anything that lapsed while the server was down.
		if _, err := scheduler.ExpireListings(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Initial listing expiry failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Quicksell stopped")
	return nil
}

// seedCategories fills an empty category table from the configured taxonomy.
func seedCategories(ctx context.Context, db *database.Manager, store *catalog.Store, path string) error {
	var (
		taxonomy []catalog.Node
		err      error
	)
	if path == "" {
		taxonomy, err = catalog.DefaultTaxonomy()
	} else {
		taxonomy, err = catalog.LoadTaxonomy(path)
	}
	if err != nil {
		return err
	}

	return db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		_, err := store.Seed(ctx, s, taxonomy)
		return err
	})
}

// newNotifier builds the account message manager from the environment.
func newNotifier(cfg config.NotifyConfig) (*notification.Manager, error) {
	n := notification.NewManager()
	if cfg.WebhookURL == "" {
		return n, nil
	}
	webhook, err := notification.NewWebhookProvider(notification.WebhookConfig{
		URL:     cfg.WebhookURL,
		Body:    cfg.WebhookBody,
		Headers: notification.ParseWebhookHeaders(cfg.WebhookHeaders),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.EnvWebhookURL, err)
	}
	n.RegisterProvider(webhook)
	return n, nil
}
