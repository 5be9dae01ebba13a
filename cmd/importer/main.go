package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog"

	"openvera/internal/banking"
	"openvera/internal/config"
	"openvera/internal/database"
	"openvera/internal/importer"
	"openvera/internal/logger"
	"openvera/internal/repositories"
)

// Imports bank transactions from either a Handelsbanken CSV export or the
// open-banking API. Both modes default to a dry run; pass -apply to write.
func main() {
	csvPath := flag.String("csv", "", "Path to a Handelsbanken CSV export")
	fetch := flag.Bool("fetch", false, "Fetch transactions from the open-banking API")
	company := flag.String("company", "", "Restrict the fetch to one company slug")
	dateFrom := flag.String("from", "", "Fetch transactions from this date (YYYY-MM-DD)")
	apply := flag.Bool("apply", false, "Write imported transactions instead of a dry run")
	flag.Parse()

	log := logger.New()

	if *csvPath == "" && !*fetch {
		log.Fatal().Msg("nothing to do: pass -csv <file> or -fetch")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer db.Close()

	companies := repositories.NewCompanyRepository(db)
	transactions := repositories.NewTransactionRepository(db)

	if *csvPath != "" {
		csvImporter := importer.NewCSVImporter(companies, transactions, log)
		result, err := csvImporter.ImportFile(*csvPath, *apply)
		if err != nil {
			log.Fatal().Err(err).Msg("CSV import failed")
		}
		logResult(log, result)
		return
	}

	if cfg.Banking.AppID == "" || cfg.Banking.PrivateKeyPath == "" {
		log.Fatal().Msg("banking credentials not configured")
	}
	client, err := banking.NewClient(cfg.Banking.AppID, cfg.Banking.PrivateKeyPath, cfg.Banking.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing banking client")
	}

	fetcher := importer.NewFetcher(client, companies, repositories.NewBankingRepository(db), transactions, log)
	result, err := fetcher.Fetch(context.Background(), importer.FetchOptions{
		CompanySlug: *company,
		DateFrom:    *dateFrom,
		DryRun:      !*apply,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fetch failed")
	}
	logResult(log, result)
}

func logResult(log zerolog.Logger, result *importer.Result) {
	log.Info().
		Str("account", result.AccountName).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Bool("dry_run", result.DryRun).
		Msg("import finished")
	if result.DryRun {
		log.Info().Msg("dry run; re-run with -apply to write")
	}
}
