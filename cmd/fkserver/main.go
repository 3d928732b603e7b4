// Command fkserver is the knowledge hub's HTTP entrypoint: it wires the
// configured persistence backends, extraction registry, chunker and
// embedder into an ingestion orchestrator, session logger and query engine,
// starts the repair and graph-maintenance background loops, and serves the
// HTTP API named in SPEC_FULL.md 6.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"finderskeepers/internal/config"
	"finderskeepers/internal/extract"
	"finderskeepers/internal/httpapi"
	"finderskeepers/internal/ingestion"
	"finderskeepers/internal/observability"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/rag/embedder"
	"finderskeepers/internal/sessionlog"
	"finderskeepers/internal/version"

	"finderskeepers/internal/chunker"
	"finderskeepers/internal/query"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("fkserver")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	log.Info().Str("version", version.Version).Msg("fkserver starting")

	baseCtx := context.Background()

	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	mgr, err := databases.NewManager(baseCtx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init databases: %w", err)
	}
	defer mgr.Close()

	emb := embedder.NewClient(cfg.Embedding, cfg.Retry, cfg.Embedding.Dimension)

	var whisper extract.WhisperEngine
	if cfg.Whisper.Enabled {
		w, err := extract.NewWhisperCppEngine(cfg.Whisper.ModelPath)
		if err != nil {
			log.Warn().Err(err).Msg("whisper model load failed, audio/video transcription disabled")
		} else {
			whisper = w
			defer w.Close()
		}
	}
	registry := extract.NewRegistry(extract.Options{Web: extract.WebOptions{
		Timeout:      cfg.Web.Timeout,
		MaxBytes:     cfg.Web.MaxBytes,
		MaxRedirects: cfg.Web.MaxRedirects,
	}, Whisper: whisper})

	chunks := chunker.New(cfg.Chunker)

	var rsf *ingestion.RedisSingleFlight
	if cfg.Ingestion.SingleFlightRedis && cfg.Redis.Enabled {
		rsf, err = ingestion.NewRedisSingleFlight(cfg.Redis.Addr, cfg.Redis.DB, 10*time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("redis single-flight init failed, falling back to in-process dedup")
			rsf = nil
		}
	}

	orch := ingestion.New(mgr, registry, chunks, emb, cfg.Ingestion, rsf)
	defer orch.Stop()

	sessions := sessionlog.New(mgr.Records, orch)
	queryEngine := query.New(mgr, emb, cfg.Query)

	var repairRelay *ingestion.RepairRelay
	if cfg.Kafka.Enabled {
		rr, err := ingestion.NewKafkaRepairRelay(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Warn().Err(err).Msg("kafka repair relay init failed, repair sweep outcomes will only be logged")
		} else {
			repairRelay = rr
			defer rr.Close()
		}
	}

	repairLog := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "repair")
	repair := ingestion.NewRepairWorker(mgr, emb, cfg.Repair, repairLog, repairRelay)
	graphLog := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "graphmaint")
	graphMaintainer := ingestion.NewGraphMaintainer(mgr, cfg.Repair.Interval, graphLog)

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go repair.Run(ctx)
	go graphMaintainer.Run(ctx)

	server := httpapi.NewServer(orch, sessions, queryEngine, cfg.Ingestion)
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	httpSrv := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("fkserver listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	log.Info().Msg("fkserver stopped")
	return nil
}
