package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sweater-ventures/courier/config"
	"github.com/sweater-ventures/courier/db"
)

type Application struct {
	Config   config.AppConfig
	DB       db.Querier
	Broker   Broker
	Adapters *AdapterRegistry
	Retry    *RetryDelayCalculator
	Metrics  *Metrics

	dbconn      *pgxpool.Pool
	broker      *RabbitBroker
	stopWorkers func()
	stopSweeper func()
}

func NewApp(config *config.AppConfig) (*Application, error) {
	conn, err := connectToDB(config)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, err
	}
	queries := db.New(conn)

	broker, err := ConnectBroker(config.AmqpURL, config.Prefetch)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		conn.Close()
		return nil, err
	}

	calculator, err := NewRetryDelayCalculator(config.InitialRetryDelay, config.MaxRetryDelay)
	if err != nil {
		broker.Close()
		conn.Close()
		return nil, err
	}

	registry, err := NewAdapterRegistry(NewGenericHTTPAdapter(config.HTTPTimeout))
	if err != nil {
		broker.Close()
		conn.Close()
		return nil, err
	}

	return &Application{
		Config:      *config,
		DB:          queries,
		Broker:      broker,
		Adapters:    registry,
		Retry:       calculator,
		Metrics:     NewMetrics(),
		dbconn:      conn,
		broker:      broker,
		stopWorkers: func() {},
		stopSweeper: func() {},
	}, nil
}

func (courier *Application) SetStopWorkers(fn func()) {
	courier.stopWorkers = fn
}

func (courier *Application) SetStopSweeper(fn func()) {
	courier.stopSweeper = fn
}

// Consume exposes the broker's delivery stream for the worker pool.
func (courier *Application) Consume() (<-chan amqp.Delivery, error) {
	return courier.broker.Consume()
}
