package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/poolwatch/internal/bus"
	"github.com/nexus-trading/poolwatch/internal/config"
	"github.com/nexus-trading/poolwatch/internal/market"
	"github.com/nexus-trading/poolwatch/internal/notify"
	"github.com/nexus-trading/poolwatch/internal/observability"
	"github.com/nexus-trading/poolwatch/internal/pipeline"
	"github.com/nexus-trading/poolwatch/internal/scanner"
	"github.com/nexus-trading/poolwatch/internal/solana"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("POOLWATCH - Raydium pool listener")
	log.Info().Msg("DETECT -> RESOLVE -> SAFETY -> ENRICH -> NOTIFY")
	log.Info().Msg("=============================================")

	// 3b. Validate configuration. Nothing starts on failure.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("program_id", cfg.Solana.ProgramID).
		Str("commitment", cfg.Solana.Commitment).
		Str("venue", cfg.Market.VenueFilter).
		Str("suffix_policy", cfg.Safety.SuffixPolicy).
		Bool("safety_disabled", cfg.Safety.Disabled).
		Dur("cooldown", cfg.Pipeline.Cooldown).
		Bool("kafka_mirror", cfg.Notify.KafkaMirror).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 4. Solana RPC + resolver.
	rpc, err := solana.NewRPCClient(solana.RPCConfig{
		Endpoint: cfg.Solana.RPCEndpoint,
		APIKey:   cfg.Solana.APIKey,
		Timeout:  cfg.Solana.RPCTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Solana RPC client")
	}

	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rpc.Health(healthCtx); err != nil {
		log.Warn().Err(err).Msg("Solana RPC health check failed (continuing, may be rate-limited)")
	} else {
		log.Info().Msg("Solana RPC: connected")
	}
	healthCancel()

	resolver := solana.NewResolver(solana.ResolverConfig{
		PoolProgramID:     solana.Pubkey(cfg.Solana.ProgramID),
		WrappedNativeMint: solana.Pubkey(cfg.Resolver.WrappedNativeMint),
		MaxTries:          cfg.Resolver.MaxTries,
		InitialDelay:      cfg.Resolver.InitialDelay,
		BaseDelay:         cfg.Resolver.BaseDelay,
		Multiplier:        cfg.Resolver.Multiplier,
		MaxDelay:          cfg.Resolver.MaxDelay,
	}, rpc)

	// 5. Safety gate (RugCheck).
	gate := scanner.NewGate(scanner.GateConfig{
		Disabled:              cfg.Safety.Disabled,
		AllowRugged:           cfg.Safety.AllowRugged,
		SuffixPolicy:          scanner.SuffixPolicy(cfg.Safety.SuffixPolicy),
		Suffixes:              cfg.Safety.Suffixes,
		BlockNames:            cfg.Safety.BlockNames,
		BlockSymbols:          cfg.Safety.BlockSymbols,
		BlockRisks:            cfg.Safety.BlockRisks,
		MaxScore:              cfg.Safety.MaxScore,
		RejectMintAuthority:   cfg.Safety.RejectMintAuthority,
		RejectFreezeAuthority: cfg.Safety.RejectFreezeAuthority,
		RejectMutable:         cfg.Safety.RejectMutable,
		MinLiquidityUSD:       cfg.Safety.MinLiquidityUSD,
		MinLPProviders:        cfg.Safety.MinLPProviders,
		MaxInsiderHolderPct:   cfg.Safety.MaxInsiderHolderPct,
	}, scanner.NewRugCheckClient(cfg.Safety.BaseURL, cfg.Safety.Timeout))

	// 6. Market enricher (DexScreener).
	enricher := market.NewEnricher(market.EnricherConfig{
		Chain:        cfg.Market.Chain,
		VenueFilter:  cfg.Market.VenueFilter,
		WarmUp:       cfg.Market.WarmUp,
		MaxTries:     cfg.Market.MaxTries,
		RetryDelay:   cfg.Market.RetryDelay,
		PumpSuffixes: cfg.Market.PumpSuffixes,
	}, market.NewDexScreenerClient(cfg.Market.Endpoint, cfg.Market.Timeout))

	// 7. Notification sinks.
	telegram, err := notify.NewTelegramSender(notify.TelegramConfig{
		BotToken:  cfg.Notify.Telegram.BotToken,
		ChatID:    cfg.Notify.Telegram.ChatID,
		ServerURL: cfg.Notify.Telegram.ServerURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram sender")
	}

	var mirrors []notify.Sink
	if cfg.Notify.KafkaMirror {
		producer, err := bus.NewProducer(cfg.Kafka.Brokers, bus.WithClientID(cfg.Kafka.ClientID))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		defer producer.Close()
		mirrors = append(mirrors, notify.NewBusSink(producer, cfg.Kafka.Topic, cfg.General.InstanceID))
		log.Info().Str("topic", cfg.Kafka.Topic).Msg("Kafka alert mirror: enabled")
	}
	dispatcher := notify.NewDispatcher(telegram, mirrors...)

	// 8. Metrics + orchestrator.
	metrics := observability.NewMetrics()
	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Cooldown:         cfg.Pipeline.Cooldown,
		SkipVenueCheck:   cfg.Market.SkipVenueCheck,
		ScreenVenueCheck: cfg.Pipeline.ScreenVenueCheck,
		Links: notify.LinkConfig{
			Chain:           cfg.Market.Chain,
			BuyLinkTemplate: cfg.Notify.BuyLinkTemplate,
		},
	}, resolver, gate, enricher, dispatcher,
		pipeline.WithTransitionHook(metrics.ObserveTransition),
		pipeline.WithOutcomeHook(metrics.ObserveOutcome),
	)

	// 9. Log subscription.
	monitor := solana.NewWSMonitor(solana.WSMonitorConfig{
		WSEndpoint:     cfg.Solana.WSEndpoint,
		ProgramID:      cfg.Solana.ProgramID,
		Commitment:     cfg.Solana.Commitment,
		Marker:         cfg.Solana.PoolMarker,
		ReconnectDelay: cfg.Solana.ReconnectDelay,
		PingInterval:   cfg.Solana.PingInterval,
		ReadTimeout:    cfg.Solana.ReadTimeout,
		BufferSize:     cfg.Solana.EventBuffer,
	})

	metrics.RegisterWS(monitor)
	metrics.RegisterCounterFunc("safety", "fail_open_total", "Safety checks admitted because the report service failed.",
		func() int64 { return gate.Stats().TotalFailOpen })
	metrics.RegisterCounterFunc("notify", "failed_total", "Alerts the primary sink failed to deliver.",
		func() int64 { return dispatcher.Stats().Failed })
	metrics.RegisterCounterFunc("rpc", "requests_total", "JSON-RPC requests issued.",
		func() int64 { return rpc.Stats().RequestCount })
	metrics.RegisterCounterFunc("rpc", "errors_total", "JSON-RPC requests that failed.",
		func() int64 { return rpc.Stats().ErrorCount })

	events, err := monitor.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start log subscription")
	}

	var wg sync.WaitGroup

	// 10. Pipeline worker.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orchestrator.Run(ctx, events); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Pipeline worker exited")
		}
	}()

	// 11. Telegram commands (/screen, /help).
	if cfg.Notify.Telegram.Commands {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notify.NewCommands(orchestrator, telegram.ChatID()).Listen(ctx, telegram.Bot())
		}()
	}

	// 12. HTTP server (health + stats + metrics + manual screen).
	if cfg.Metrics.Enabled {
		health := observability.NewHealthMonitor()
		health.Register("ws", observability.WSCheck(monitor))
		health.Register("rpc", observability.ProbeCheck(rpc.Health))

		server := observability.NewServer(cfg.Metrics.Listen, health, metrics, func() any {
			return map[string]any{
				"ws":       monitor.Stats(),
				"rpc":      rpc.Stats(),
				"safety":   gate.Stats(),
				"market":   enricher.Stats(),
				"notify":   dispatcher.Stats(),
				"pipeline": orchestrator.Stats(),
			}
		}, orchestrator)

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
			}()
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ws := monitor.Stats()
				ss := gate.Stats()
				ps := orchestrator.Stats()
				log.Info().
					Bool("ws_connected", ws.Connected).
					Int64("pools_detected", ws.PoolsDetected).
					Int64("events_dropped", ws.Dropped).
					Int("queued", ws.Queued).
					Int64("reconnects", ws.Reconnects).
					Int64("safety_checked", ss.TotalChecked).
					Int64("safety_rejected", ss.TotalRejected).
					Int64("safety_fail_open", ss.TotalFailOpen).
					Int64("runs", ps.Runs).
					Int64("notified", ps.Notified).
					Int64("unavailable", ps.Unavailable).
					Str("state", ps.State).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("Monitoring for new liquidity pools...")

	// 13. Block until shutdown.
	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	wg.Wait()

	final := orchestrator.Stats()
	log.Info().
		Int64("runs", final.Runs).
		Int64("screens", final.Screens).
		Int64("notified", final.Notified).
		Int64("rejected", final.Rejected).
		Int64("unresolved", final.Unresolved).
		Int64("unavailable", final.Unavailable).
		Msg("POOLWATCH - Final Statistics")
	log.Info().Msg("POOLWATCH - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "poolwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "poolwatch").
			Str("instance", general.InstanceID).Logger()
	}
}
