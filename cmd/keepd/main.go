package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/store"
	"github.com/trustkeep/keep/x/cash"
	"github.com/trustkeep/keep/x/escrow"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "keepd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fl := flag.NewFlagSet("keepd", flag.ContinueOnError)
	configFl := fl.String("config", "", "path to a TOML configuration file")
	listenFl := fl.String("listen", "", "listen address, overrides the configuration file")
	debugFl := fl.Bool("debug", false, "verbose request logging")
	if err := fl.Parse(args); err != nil {
		return err
	}

	logger := initLogger("keepd")
	if *debugFl {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := DefaultConfig()
	if *configFl != "" {
		var err error
		if cfg, err = loadConfig(*configFl); err != nil {
			return err
		}
	}
	if *listenFl != "" {
		cfg.ListenAddr = *listenFl
	}

	db := store.Sync(store.MemStore())
	ledger := cash.NewController()
	if err := loadGenesis(db, ledger, cfg.Genesis); err != nil {
		return err
	}
	logger.Info().Int("accounts", len(cfg.Genesis)).Msg("genesis loaded")

	engine := escrow.NewEngine(db, ledger, keep.SystemClock())
	srv := NewServer(engine, ledger, db, logger)
	return srv.Run(cfg.ListenAddr)
}

// loadGenesis funds the initial wallets. All accounts are written in one
// step so a bad genesis leaves the store untouched.
func loadGenesis(db store.CacheableKVStore, ledger *cash.Controller, accounts []GenesisAccount) error {
	cache := db.CacheWrap()
	for i, acc := range accounts {
		if err := ledger.IssueCoins(cache, acc.Address, acc.Balance); err != nil {
			cache.Discard()
			return fmt.Errorf("genesis account %d: %w", i, err)
		}
	}
	cache.Write()
	return nil
}

func initLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
