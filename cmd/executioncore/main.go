// Command executioncore boots the multi-exchange execution router: signed
// venue sessions, the order/position/balance managers, durable storage,
// and the operator notification sink.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/balance"
	"github.com/web3guy0/polybot/internal/config"
	"github.com/web3guy0/polybot/internal/execrouter"
	"github.com/web3guy0/polybot/internal/notify"
	"github.com/web3guy0/polybot/internal/ordercore"
	"github.com/web3guy0/polybot/internal/position"
	"github.com/web3guy0/polybot/internal/storage"
	"github.com/web3guy0/polybot/internal/venue"
)

const version = "1.0.0"

// knownVenues lists the env-var prefixes LoadExecutionConfig probes for
// activation tuples. The router's handleConfig builds every activated
// venue as a BinanceSession, whatever its prefix.
var knownVenues = []string{"binance"}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	execCfg, err := config.LoadExecutionConfig(knownVenues)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load execution configuration")
	}

	log.Info().Str("version", version).Str("account", execCfg.Account).Msg("execution core starting")

	store, err := storage.Open(execCfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open durable storage")
	}

	table := ordercore.NewTable()
	orders := ordercore.NewManager(table, store)
	balances := balance.New()
	positions := position.New()

	router := execrouter.New(orders, balances, positions, execCfg.Account)
	router.SetTimings(execCfg.ShutdownDrain, execCfg.SoftCleanupEvery)

	if telegram, err := notify.NewTelegram(); err != nil {
		log.Warn().Err(err).Msg("telegram notify sink unavailable")
	} else if telegram != nil {
		router.SetNotifier(telegram)
	}

	for _, v := range execCfg.Venues {
		cfg := venue.Config{
			Network:  v.Network,
			Exchange: v.Exchange,
			Account:  v.Account,
			Credentials: venue.Credentials{
				APIKey:     v.Creds.APIKey,
				APISecret:  v.Creds.APISecret,
				Passphrase: v.Creds.Passphrase,
				Address:    v.Creds.Address,
				PrivateKey: v.Creds.PrivateKey,
				Env:        v.Creds.Env,
			},
		}
		if v.Execution {
			cfg.Resources |= venue.ResourceExecution
		}
		if v.Accounting {
			cfg.Resources |= venue.ResourceAccounting
		}
		router.ConfigChan() <- cfg
	}

	go persistPositionDeltas(positions, store)
	go persistBalanceDeltas(balances, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go router.Run(ctx, done)

	log.Info().Msg("execution core ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, draining router")
	cancel()

	select {
	case clean := <-done:
		if !clean {
			log.Error().Msg("shutdown drain deadline exceeded with work outstanding")
			os.Exit(1)
		}
	case <-time.After(execCfg.ShutdownDrain + 5*time.Second):
		log.Error().Msg("router did not acknowledge shutdown in time")
		os.Exit(1)
	}
	log.Info().Msg("execution core stopped")
}

// persistPositionDeltas mirrors every position change into the append-only
// snapshot log, the write path §6 describes for positions/balances.
func persistPositionDeltas(positions *position.Manager, store *storage.Store) {
	for b := range positions.Deltas() {
		if err := store.SavePositionSnapshot(b.Account, b.Instrument, b.Total, b.Available, b.Locked, b.UpdatedLT); err != nil {
			log.Error().Err(err).Str("instrument", b.Instrument.String()).Msg("failed to persist position snapshot")
		}
	}
}

// persistBalanceDeltas mirrors every balance change into the append-only
// snapshot log.
func persistBalanceDeltas(balances *balance.Manager, store *storage.Store) {
	for b := range balances.Deltas() {
		if err := store.SaveBalanceSnapshot(b.Exchange, b.Free, b.Reserved, b.Total); err != nil {
			log.Error().Err(err).Str("exchange", b.Exchange).Msg("failed to persist balance snapshot")
		}
	}
}
