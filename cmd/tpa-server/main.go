package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medisure/tpa/internal/config"
	"github.com/medisure/tpa/internal/domain/catalog"
	"github.com/medisure/tpa/internal/domain/claims"
	"github.com/medisure/tpa/internal/domain/member"
	"github.com/medisure/tpa/internal/domain/preapproval"
	"github.com/medisure/tpa/internal/domain/provider"
	"github.com/medisure/tpa/internal/domain/usage"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
	"github.com/medisure/tpa/internal/platform/auth"
	"github.com/medisure/tpa/internal/platform/db"
	"github.com/medisure/tpa/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tpa-server",
		Short: "Benefit adjudication and usage engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the TPA API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepCmd expires lapsed pre-approvals once and exits. The serve command
// runs the same sweep on a timer; this exists for cron-style deployments.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed pre-approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := preapproval.NewRepoPG(pool)
			n, err := repo.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			logger.Info().Int64("expired", n).Msg("pre-approval sweep complete")
			return nil
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Audit sink drains on its own context so entries recorded during
	// shutdown still land.
	sink := audit.NewSink(audit.NewRepoPG(pool), logger, cfg.AuditBuffer)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	go sink.Start(auditCtx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	txRunner := func(ctx context.Context, fn func(context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	// Catalog
	catalogSvc := catalog.NewService(catalog.NewPolicyRepoPG(pool), catalog.NewBenefitRepoPG(pool), sink)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	// Members; the ledger is bound after the usage service exists.
	memberSvc := member.NewService(member.NewRepoPG(pool), member.NewConditionRepoPG(pool), catalogSvc, nil, sink)
	member.NewHandler(memberSvc).RegisterRoutes(apiV1)

	// Usage ledger
	usageSvc := usage.NewService(usage.NewRepoPG(pool), catalogSvc, memberSvc, sink)
	memberSvc.SetLedger(usageSvc)
	usage.NewHandler(usageSvc).RegisterRoutes(apiV1)

	// Providers
	providerSvc := provider.NewService(provider.NewRepoPG(pool), provider.NewContractRepoPG(pool), sink)
	provider.NewHandler(providerSvc).RegisterRoutes(apiV1)

	// Pre-approvals
	preApprovalSvc := preapproval.NewService(
		preapproval.NewRuleRepoPG(pool), preapproval.NewRepoPG(pool),
		catalogSvc, memberSvc, providerSvc, usageSvc,
		txRunner, sink, cfg.PreApprovalValidityDays)
	preapproval.NewHandler(preApprovalSvc).RegisterRoutes(apiV1)

	// Claims
	claimSvc := claims.NewService(
		claims.NewRepoPG(pool),
		catalogSvc, memberSvc, providerSvc, preApprovalSvc, usageSvc,
		txRunner, sink)
	claims.NewHandler(claimSvc).RegisterRoutes(apiV1)

	// Background sweep keeps APPROVED pre-approvals honest.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := preApprovalSvc.SweepExpired(ctx)
				if err != nil {
					logger.Error().Err(err).Msg("pre-approval sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().Int64("expired", n).Msg("pre-approvals expired")
				}
			}
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	auditCancel()
	sink.Wait()
	return nil
}
