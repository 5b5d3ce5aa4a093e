package main

import (
	"database/sql"

	"github.com/jonboulle/clockwork"
	"github.com/openmatka/engine/internal/bus"
	"github.com/openmatka/engine/internal/gateway"
	"github.com/openmatka/engine/internal/result"
	"github.com/openmatka/engine/internal/round"
	"github.com/openmatka/engine/internal/settle"
	"github.com/openmatka/engine/internal/stake"
	"github.com/openmatka/engine/internal/wallet"
)

// Services holds every wired component of the running game process.
type Services struct {
	Tracker  *round.Tracker
	Stakes   *stake.App
	Wallet   *wallet.Repository
	Results  *result.Repository
	Settler  *settle.Engine
	Manager  *gateway.ConnectionManager
	Bus      *bus.JetStreamPublisher
	Consumer *bus.Consumer
}

func setupServices(database *sql.DB, gameCfg *GameConfig) (*Services, error) {
	// Database layer → repository layer → app layer, with the round
	// tracker at the center feeding the settlement worker.
	walletRepo := wallet.NewRepository(database)
	resultRepo := result.NewRepository(database)
	stakeRepo := stake.NewRepository(database, walletRepo)

	publisher, err := bus.NewJetStreamPublisher(jetStreamConfigFromEnv())
	if err != nil {
		return nil, err
	}

	roundCfg, err := gameCfg.roundConfig()
	if err != nil {
		publisher.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()

	// The manager needs the tracker for connect-time snapshots and the
	// tracker needs the manager for tick broadcasts. Break the cycle by
	// constructing the manager against a late-bound provider.
	var tracker *round.Tracker
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), snapshotFunc(func() (string, int, bool) {
		if tracker == nil {
			return "", 0, false
		}
		return tracker.Snapshot()
	}))
	tracker = round.NewTracker(roundCfg, clock, manager, publisher)

	stakeApp := stake.NewApp(stakeRepo, tracker, clock)
	engine := settle.NewEngine(resultRepo, stakeRepo, walletRepo, publisher, gameCfg.payoutMultiplier())

	consumer, err := bus.NewConsumer(consumerConfigFromEnv(), manager.HandleBusEvent)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return &Services{
		Tracker:  tracker,
		Stakes:   stakeApp,
		Wallet:   walletRepo,
		Results:  resultRepo,
		Settler:  engine,
		Manager:  manager,
		Bus:      publisher,
		Consumer: consumer,
	}, nil
}

type snapshotFunc func() (label string, secondsLeft int, ok bool)

func (f snapshotFunc) Snapshot() (string, int, bool) { return f() }

func jetStreamConfigFromEnv() bus.JetStreamConfig {
	cfg := bus.DefaultJetStreamConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	return cfg
}

func consumerConfigFromEnv() bus.ConsumerConfig {
	cfg := bus.DefaultConsumerConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	return cfg
}
