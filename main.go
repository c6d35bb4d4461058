package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqtt-telemetry/adapters"
	"mqtt-telemetry/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagMQTTHost,
	FlagMQTTPort,
	FlagMQTTPath,
	FlagMQTTTransport,
	FlagMQTTTLS,
	FlagMQTTClientID,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagMQTTConnectTimeout,
	FlagMQTTPublishTimeout,
	FlagTopics,
	FlagDebounceWindow,
	FlagRetention,
	FlagMessageLogSize,
	FlagHTTPAddr,
	FlagConnectOnStart,
	FlagShutdownTimeout,
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	app := cli.App{
		Name:    "mqtt-telemetry",
		Usage:   "ingest broker readings and serve trend snapshots to the dashboard",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			if err := applyConfigFile(ctx); err != nil {
				return err
			}

			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "mqtt-telemetry").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			topics, err := parseTopics(ctx.StringSlice(FlagTopics.Name))
			if err != nil {
				return err
			}

			mqttClient := adapters.NewMQTTClient(adapters.MQTTClientParams{
				Host:           ctx.String(FlagMQTTHost.Name),
				Port:           ctx.Int(FlagMQTTPort.Name),
				Path:           ctx.String(FlagMQTTPath.Name),
				Transport:      ctx.String(FlagMQTTTransport.Name),
				UseTLS:         ctx.Bool(FlagMQTTTLS.Name),
				ClientID:       ctx.String(FlagMQTTClientID.Name),
				Username:       ctx.String(FlagMQTTUsername.Name),
				Password:       ctx.String(FlagMQTTPassword.Name),
				ConnectTimeout: ctx.Duration(FlagMQTTConnectTimeout.Name),
				PublishTimeout: ctx.Duration(FlagMQTTPublishTimeout.Name),
				Log:            logger.With().Str("module", "mqtt-client").Logger(),
			})

			metrics := adapters.NewPrometheusMetrics()

			telemetryService, err := application.NewTelemetryService(application.TelemetryServiceParams{
				BrokerLink:     mqttClient,
				Topics:         topics,
				Retention:      ctx.Int(FlagRetention.Name),
				DebounceWindow: ctx.Duration(FlagDebounceWindow.Name),
				MessageLogSize: ctx.Int(FlagMessageLogSize.Name),
				Metrics:        metrics,
				Log:            logger.With().Str("module", "telemetry-service").Logger(),
			})
			if err != nil {
				return err
			}

			httpServer, err := adapters.NewHTTPServer(adapters.HTTPServerParams{
				Addr:            ctx.String(FlagHTTPAddr.Name),
				ShutdownTimeout: ctx.Duration(FlagShutdownTimeout.Name),
				Service:         telemetryService,
				Gatherer:        metrics.Registry(),
				Log:             logger.With().Str("module", "http").Logger(),
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(appCtx)
			g.Go(func() error {
				return telemetryService.Run(gctx)
			})
			g.Go(func() error {
				return httpServer.Run(gctx)
			})
			if ctx.Bool(FlagConnectOnStart.Name) {
				g.Go(func() error {
					// a failed first attempt is not fatal; the dashboard retries through /connect
					if err := telemetryService.Connect(gctx); err != nil {
						logger.Warn().Err(err).Msg("initial connect failed")
					}
					return nil
				})
			}

			logger.Info().Msg("service started")
			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

func parseTopics(keys []string) ([]application.TopicID, error) {
	seen := map[application.TopicID]bool{}
	var topics []application.TopicID
	for _, key := range keys {
		id, err := application.ParseTopicKey(key)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		topics = append(topics, id)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	return topics, nil
}
