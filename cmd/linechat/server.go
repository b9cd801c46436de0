package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wtask/linechat/internal/chat"
	"github.com/wtask/linechat/internal/chat/broker"
	"github.com/wtask/linechat/internal/journal"
	"github.com/wtask/linechat/internal/metrics"
)

// runServer - serves chat until ctx is done.
func runServer(ctx context.Context, config Config, logger *slog.Logger) (int, error) {
	logger.Info("Started with config", "config", fmt.Sprintf("%+v", config))
	options := []chat.ServerOption{
		chat.WithLogger(logger),
		chat.WithMachineInfo(journal.Collect),
	}

	if config.SessionDB != "" {
		store, err := journal.Open(config.SessionDB, logger)
		if err != nil {
			return exitRuntime, err
		}
		defer func() {
			logger.Info("Closing session store...")
			_ = store.Close()
		}()
		options = append(options, chat.WithSessionStore(store))
	}

	if config.EventLog != "" {
		eventLog, err := journal.OpenEventLog(config.EventLog)
		if err != nil {
			return exitRuntime, err
		}
		// server owns event log since here
		options = append(options, chat.WithEventLog(eventLog))
		defer eventLog.Close()
	}

	server, err := chat.NewServer(chat.DefaultBroker(config.brokerConfig()), options...)
	if err != nil {
		return exitConfig, err
	}

	if config.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, config.MetricsAddr, logger); err != nil {
				logger.Error("Metrics endpoint failed", "addr", config.MetricsAddr, "err", err)
			}
		}()
	}

	err = server.Run(ctx, config.IP, config.Port)
	var bindErr *broker.BindError
	switch {
	case errors.As(err, &bindErr):
		return exitRuntime, fmt.Errorf("unable to listen TCP: %w", err)
	case err != nil:
		return exitRuntime, err
	}
	logger.Info("Chat server stopped, bye")
	return exitOK, nil
}
