package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/auth"
	"github.com/skye-vasquez/Craft/internal/config"
	"github.com/skye-vasquez/Craft/internal/craft"
	"github.com/skye-vasquez/Craft/internal/database"
	"github.com/skye-vasquez/Craft/internal/evidence"
	"github.com/skye-vasquez/Craft/internal/logging"
	"github.com/skye-vasquez/Craft/internal/ratelimit"
	"github.com/skye-vasquez/Craft/internal/server"
	"github.com/skye-vasquez/Craft/internal/stores"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-api",
		Short: "Compliance evidence portal backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newStoreCommand(), newControlCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("craft-base-url", "", "Craft block API base URL (empty runs simulated sync)")
	cmd.PersistentFlags().String("session-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "craft.base_url", "craft-base-url")
	bindFlag(cmd, "session.secret", "session-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{Driver: appConfig.DatabaseDriver, DSN: appConfig.DatabaseDSN}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	storeService, err := stores.NewService(stores.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	submissionService, err := submissions.NewService(submissions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: submissions.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	auditLog, err := audit.NewLogger(audit.LoggerConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}
	admins, err := auth.NewAdminAuthenticator(auth.AdminAuthenticatorConfig{
		Emails:   appConfig.AdminEmails,
		Password: appConfig.AdminPassword,
	})
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(appConfig)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var uploader evidence.Uploader
	if appConfig.EvidenceEnabled() {
		minioUploader, err := evidence.NewMinioUploader(evidence.Config{
			Endpoint:      appConfig.EvidenceEndpoint,
			AccessKey:     appConfig.EvidenceAccessKey,
			SecretKey:     appConfig.EvidenceSecretKey,
			Bucket:        appConfig.EvidenceBucket,
			Region:        appConfig.EvidenceRegion,
			UseSSL:        appConfig.EvidenceUseSSL,
			PublicBaseURL: appConfig.EvidencePublicBaseURL,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		uploader = minioUploader
	} else {
		logger.Warn("evidence storage not configured, file uploads disabled")
	}

	syncer, err := newSyncer(appConfig, submissionService, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Stores:           storeService,
		Submissions:      submissionService,
		Syncer:           syncer,
		Audit:            auditLog,
		SessionIssuer:    issuer,
		SessionValidator: validator,
		Admins:           admins,
		Limiter:          limiter,
		Evidence:         uploader,
		AllowedOrigins:   appConfig.CORSAllowedOrigins,
		SecureCookie:     appConfig.SessionSecureCookie,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("craft_simulated", appConfig.CraftSimulated()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLimiter(appConfig config.AppConfig) (ratelimit.Limiter, func(), error) {
	if appConfig.RateLimitBackend == config.RateLimitBackendRedis {
		limiter, err := ratelimit.NewRedisLimiter(appConfig.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return limiter, func() { _ = limiter.Close() }, nil
	}
	return ratelimit.NewMemoryLimiter(time.Now), func() {}, nil
}

// newSyncer leaves the block API unset when no base URL is configured so the
// syncer runs in simulated mode.
func newSyncer(appConfig config.AppConfig, submissionService *submissions.Service, logger *zap.Logger) (*craft.Syncer, error) {
	location, err := time.LoadLocation(appConfig.CraftTimezone)
	if err != nil {
		return nil, err
	}
	syncerConfig := craft.SyncerConfig{
		Submissions:    submissionService,
		Documents:      submissionService,
		Formatter:      craft.Formatter{Location: location},
		SimulatedDelay: appConfig.CraftSimulatedDelay,
		Logger:         logger,
	}
	if !appConfig.CraftSimulated() {
		client, err := craft.NewClient(craft.ClientConfig{
			BaseURL: appConfig.CraftBaseURL,
			Timeout: appConfig.CraftTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		syncerConfig.API = client
	} else {
		logger.Warn("craft base url not configured, sync runs in simulated mode")
	}
	return craft.NewSyncer(syncerConfig)
}

// openDatabase serves the admin subcommands, which need only the database keys.
func openDatabase() (*gorm.DB, func(), error) {
	logger, err := logging.NewLogger(viper.GetString("log.level"))
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(database.Config{
		Driver: viper.GetString("database.driver"),
		DSN:    viper.GetString("database.dsn"),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}, nil
}

func newStoreCommand() *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stores",
	}

	var (
		name string
		pin  string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a store, optionally with its login PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDatabase, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDatabase()

			service, err := stores.NewService(stores.ServiceConfig{Database: db})
			if err != nil {
				return err
			}
			store, err := service.Create(cmd.Context(), name)
			if err != nil {
				return err
			}
			if pin != "" {
				if _, err := service.SetPIN(cmd.Context(), store.ID, pin); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", store.ID, store.Name)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Store name")
	addCmd.Flags().StringVar(&pin, "pin", "", "Six digit login PIN")
	_ = addCmd.MarkFlagRequired("name")

	storeCmd.AddCommand(addCmd)
	return storeCmd
}

func newControlCommand() *cobra.Command {
	controlCmd := &cobra.Command{
		Use:   "control",
		Short: "Manage compliance controls",
	}

	var (
		id     string
		name   string
		period string
		order  int
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a compliance control",
		RunE: func(cmd *cobra.Command, args []string) error {
			periodType, err := submissions.ParsePeriodType(period)
			if err != nil {
				return err
			}
			db, closeDatabase, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDatabase()

			service, err := submissions.NewService(submissions.ServiceConfig{
				Database:   db,
				IDProvider: submissions.NewUUIDProvider(),
			})
			if err != nil {
				return err
			}
			control, err := service.CreateControl(cmd.Context(), submissions.Control{
				ID:           id,
				Name:         name,
				PeriodType:   periodType,
				DisplayOrder: order,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", control.ID, control.Name, control.PeriodType)
			return nil
		},
	}
	addCmd.Flags().StringVar(&id, "id", "", "Control identifier, e.g. C1")
	addCmd.Flags().StringVar(&name, "name", "", "Control name")
	addCmd.Flags().StringVar(&period, "period", string(submissions.PeriodTypeWeekly), "Period type (weekly, monthly)")
	addCmd.Flags().IntVar(&order, "order", 0, "Display order")
	_ = addCmd.MarkFlagRequired("id")
	_ = addCmd.MarkFlagRequired("name")

	controlCmd.AddCommand(addCmd)
	return controlCmd
}
