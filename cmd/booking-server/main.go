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

	"github.com/clinic/booking/internal/config"
	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/jobs"
	"github.com/clinic/booking/internal/platform/lock"
	"github.com/clinic/booking/internal/platform/memstore"
	"github.com/clinic/booking/internal/platform/middleware"
	"github.com/clinic/booking/internal/platform/sandbox"
	"github.com/clinic/booking/migrations"
)

const (
	version       = "0.1.0"
	sweepJobName  = "appointment-sweep"
	lockKeyPrefix = "booking:"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "booking-server",
		Short: "Clinic booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return migrator.CheckExclusionConstraints(cmd.Context(), schema, scheduling.ExclusionConstraints()...)
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.StorePostgres {
		return nil, nil, fmt.Errorf("migrations need STORE_DRIVER=%s", config.StorePostgres)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

// sweepCmd runs one retention sweep. With REDIS_URL set it takes the same
// lock as the server's scheduled run.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete appointments that ended before today",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := logger.WithContext(cmd.Context())

			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			locker, closeLock, err := newLocker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeLock()

			svc := newServices(st)
			runner := jobs.NewRunner(logger, locker)
			if err := runner.Add(sweepJob(cfg, svc.appointments)); err != nil {
				return err
			}
			n, err := runner.RunNow(ctx, sweepJobName)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Deleted %d expired appointment(s).\n", n)
			return nil
		},
	}
}

// seedCmd fills the configured store with demo data.
func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo practitioners, patients, availability and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.StoreMemory {
				return fmt.Errorf("seeding the memory store from the CLI has no effect; set SEED_DEMO=true on serve instead")
			}
			logger := newLogger(cfg)
			ctx := logger.WithContext(cmd.Context())

			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.PractitionerCount, _ = cmd.Flags().GetInt("practitioners")
			seedCfg.PatientCount, _ = cmd.Flags().GetInt("patients")
			seedCfg.Days, _ = cmd.Flags().GetInt("days")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			res, err := seedDemo(ctx, seedCfg, newServices(st))
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d practitioner(s), %d patient(s), %d window(s), %d appointment(s).\n",
				res.Practitioners, res.Patients, res.Windows, res.Appointments)
			return nil
		},
	}
	def := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("practitioners", def.PractitionerCount, "Number of practitioners")
	cmd.Flags().Int("patients", def.PatientCount, "Number of patients")
	cmd.Flags().Int("days", def.Days, "Days of availability to generate, starting tomorrow")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 picks one from the clock")
	return cmd
}

func seedDemo(ctx context.Context, cfg sandbox.SeedConfig, svc *services) (*sandbox.SeedResult, error) {
	return sandbox.NewSeeder(cfg, svc.identity, svc.availability, svc.appointments).Seed(ctx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// stores bundles the repositories of the configured backend.
type stores struct {
	patients      identity.PatientRepository
	practitioners identity.PractitionerRepository
	availability  scheduling.AvailabilityRepository
	appointments  scheduling.AppointmentRepository
	tx            scheduling.TxRunner
	health        echo.HandlerFunc
	close         func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		return memoryStores(), nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrator(pool, migrations.FS).CheckExclusionConstraints(ctx, "public", scheduling.ExclusionConstraints()...); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		patients:      identity.NewPatientRepo(pool),
		practitioners: identity.NewPractitionerRepo(pool),
		availability:  scheduling.NewAvailabilityRepoPG(pool),
		appointments:  scheduling.NewAppointmentRepoPG(pool),
		tx:            db.NewTxManager(pool, db.DefaultTxAttempts),
		health:        db.PoolHealthHandler(pool),
		close:         pool.Close,
	}, nil
}

func memoryStores() *stores {
	m := memstore.New()
	return &stores{
		patients:      m.Patients(),
		practitioners: m.Practitioners(),
		availability:  m.Availability(),
		appointments:  m.Appointments(),
		tx:            m,
		health:        db.HealthHandler(config.StoreMemory, m, nil),
		close:         func() {},
	}
}

type services struct {
	identity     *identity.Service
	availability *scheduling.AvailabilityService
	appointments *scheduling.AppointmentService
}

// newServices wires the domain services. The availability and appointment
// services depend on each other through narrow interfaces, so the booking
// counter is attached after both exist.
func newServices(st *stores) *services {
	identitySvc := identity.NewService(st.patients, st.practitioners)
	availSvc := scheduling.NewAvailabilityService(st.availability, identitySvc, st.tx)
	apptSvc := scheduling.NewAppointmentService(st.appointments, identitySvc, st.tx, availSvc)
	availSvc.SetBookingCounter(apptSvc)
	return &services{identity: identitySvc, availability: availSvc, appointments: apptSvc}
}

func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	r, err := lock.NewRedis(ctx, cfg.RedisURL, lockKeyPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("using redis for job locks")
	return r, func() { _ = r.Close() }, nil
}

func sweepJob(cfg *config.Config, appts *scheduling.AppointmentService) jobs.Job {
	return jobs.Job{
		Name:       sweepJobName,
		Schedule:   cfg.SweepSchedule,
		RunOnStart: cfg.SweepOnStart,
		Timeout:    cfg.SweepTimeout,
		LockTTL:    cfg.SweepLockTTL,
		Task:       appts.SweepExpiredAppointments,
	}
}

// newServer builds the echo instance with middleware and every route.
func newServer(cfg *config.Config, logger zerolog.Logger, st *stores, svc *services, runner *jobs.Runner) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, scheduling.SweepPath))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", st.health)

	apiV1 := e.Group("/api/v1")

	// Auth middleware
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
	}
	var verify echo.MiddlewareFunc
	if jwtCfg.Enabled() {
		verify = auth.JWTMiddleware(jwtCfg)
	}
	switch {
	case cfg.IsDev():
		apiV1.Use(auth.DevAuthMiddleware(verify))
	case verify != nil:
		apiV1.Use(verify)
	default:
		return nil, fmt.Errorf("no token verifier configured")
	}

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(svc.identity).RegisterRoutes(apiV1)

	var sweep scheduling.SweepFunc
	if runner != nil {
		sweep = func(ctx context.Context) (int64, error) {
			return runner.RunNow(ctx, sweepJobName)
		}
	}
	scheduling.NewHandler(svc.availability, svc.appointments, sweep).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.close()
	logger.Info().Str("store", cfg.StoreDriver).Msg("storage ready")

	svc := newServices(st)
	if cfg.SeedDemo {
		if _, err := seedDemo(logger.WithContext(ctx), sandbox.DefaultSeedConfig(), svc); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo data")
		}
	}

	// Retention sweep
	locker, closeLock, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up job locks")
	}
	defer closeLock()
	runner := jobs.NewRunner(logger, locker)
	if err := runner.Add(sweepJob(cfg, svc.appointments)); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule retention sweep")
	}

	e, err := newServer(cfg, logger, st, svc, runner)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(ctx)
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-runnerDone
	logger.Info().Msg("server stopped")
	return nil
}
