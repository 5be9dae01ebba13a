package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"

	"openvera/internal/banking"
	"openvera/internal/config"
	"openvera/internal/database"
	"openvera/internal/handlers"
	"openvera/internal/importer"
	"openvera/internal/logger"
	"openvera/internal/matching"
	"openvera/internal/reports"
	"openvera/internal/repositories"
	"openvera/internal/sie"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	if *migrateCmd != "" {
		handleMigration(log, cfg, *migrateCmd, *steps)
		return
	}

	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer db.Close()

	companies := repositories.NewCompanyRepository(db)
	transactions := repositories.NewTransactionRepository(db)
	documents := repositories.NewDocumentRepository(db)
	parties := repositories.NewPartyRepository(db)
	bankingRepo := repositories.NewBankingRepository(db)
	recon := repositories.NewReconciliationRepository(db)

	engine := matching.NewEngine(transactions, documents, recon)
	reportService := reports.NewService(transactions, recon, parties, companies, log)
	generator := sie.NewGenerator(companies, transactions, recon)

	// The open-banking client is optional; without credentials the consent
	// and fetch endpoints report the integration as unconfigured.
	var bankClient *banking.Client
	var fetcher *importer.Fetcher
	if cfg.Banking.AppID != "" && cfg.Banking.PrivateKeyPath != "" {
		bankClient, err = banking.NewClient(cfg.Banking.AppID, cfg.Banking.PrivateKeyPath, cfg.Banking.BaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing banking client")
		}
		fetcher = importer.NewFetcher(bankClient, companies, bankingRepo, transactions, log)
	} else {
		log.Warn().Msg("banking credentials not configured; consent endpoints disabled")
	}

	router := handlers.SetupRouter(&handlers.Dependencies{
		Config:      cfg,
		Log:         log,
		Companies:   companies,
		Transaction: transactions,
		Documents:   documents,
		Parties:     parties,
		Banking:     bankingRepo,
		Recon:       recon,
		Engine:      engine,
		Reports:     reportService,
		SIE:         generator,
		BankClient:  bankClient,
		Fetcher:     fetcher,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.ServerAddress).Msg("server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("server exited gracefully")
}

func handleMigration(log zerolog.Logger, cfg *config.Config, command string, steps int) {
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database exists")
	}
	db.Close()

	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no change") {
			log.Info().Msg("no migration changes to apply")
			return
		}
		log.Fatal().Err(err).Msg("failed to initialize migrate")
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if verErr == migrate.ErrNilVersion {
				log.Info().Msg("no migrations have been applied yet")
				return
			}
			log.Fatal().Err(verErr).Msg("failed to get version")
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", version, dirty)
		return
	default:
		log.Fatal().Str("command", command).Msg("invalid migration command")
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			log.Info().Msg("no migration changes to apply")
			return
		}
		log.Fatal().Err(err).Msg("migration failed")
	}

	log.Info().Msg("migration completed successfully")
}
