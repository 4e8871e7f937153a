// Package api implements the HTTP and WebSocket surface of the wastetrack service.
package api

import (
	"context"
	"log"
	"strings"

	"wastetrack/internal/config"
	"wastetrack/internal/store"
	"wastetrack/internal/tracker"
)

type Server struct {
	Store   store.Store
	Tracker *tracker.Tracker
	Broker  EventBroker
	Cfg     config.Config

	limits *limiterSet
}

// NewServer creates a Server from cfg. Without a database URL it uses the
// in-memory store; without a Redis URL it uses the in-memory broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(context.Background()); err != nil {
				_ = sp.Close()
				return nil, err
			}
		}
		s = sp
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-memory: %v", err)
		}
	}

	tr := tracker.New(s,
		tracker.WithRadius(cfg.Coverage.RadiusM),
		tracker.WithSaveRetries(cfg.Coverage.SaveRetries),
		tracker.WithSink(BrokerSink(broker)),
	)
	return NewServerWith(cfg, s, tr, broker), nil
}

// NewServerWith wires a Server from already constructed parts.
func NewServerWith(cfg config.Config, s store.Store, tr *tracker.Tracker, broker EventBroker) *Server {
	return &Server{
		Store:   s,
		Tracker: tr,
		Broker:  broker,
		Cfg:     cfg,
		limits:  newLimiterSet(cfg.Rate.RPS, cfg.Rate.Burst),
	}
}
