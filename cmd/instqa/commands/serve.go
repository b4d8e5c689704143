package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/instqa-go/internal/auth"
	"github.com/54b3r/instqa-go/internal/embedder"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/server"
	"github.com/54b3r/instqa-go/internal/session"
)

// NewServeCmd constructs the `instqa serve` command, which loads the index
// (building it first when absent) and starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the instqa HTTP API",
		Long: `Start the instqa HTTP API.

On startup the vector index is loaded once and shared by every request. If no
index exists yet, the ingestion pipeline runs first against the configured
source file (INGEST_SOURCE_FILE). A missing source file is only a warning:
the server starts and every question outside the override table is answered
with "no relevant information". An index built with a different embedding
width aborts startup.

Required environment variables:
  INSTQA_JWT_SECRET    Secret used to sign access tokens (16+ bytes)
  ANSWER_URL           Answer service endpoint (when ANSWER_BACKEND=http)

Examples:
  instqa serve
  instqa serve --port 9090
  ANSWER_BACKEND=model MODEL_PROVIDER=ollama instqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			s, err := resolveSettings()
			if err != nil {
				return err
			}
			if err := s.RequireServe(); err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("embedder", emb.Identity().String()))

			st, err := openStore(s.DBPath, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			index, err := openIndexBackend(s, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer index.Close()

			searcher, err := loadOrBuildIndex(ctx, s, emb, index, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			engine, err := buildEngine(s, emb, searcher, metrics.ObserveRetrieval)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			ans, answerPinger, flush, err := buildAnswerer(ctx, s, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer flush()

			sessions, err := session.New(session.Config{
				Store:     st,
				Retriever: engine,
				Answerer:  ans,
				Observe:   metrics.ObserveExchange,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			issuer, err := auth.NewIssuer(s.JWTSecret, s.TokenTTL)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{st, server.NewIndexPinger(engine)}
			if index.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(index.qdrant))
			}
			if answerPinger != nil {
				pingers = append(pingers, answerPinger)
			}

			srv, err := server.New(&server.Config{
				Host:      s.Host,
				Port:      s.Port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: s.RateLimit,
				RateBurst: s.RateBurst,
				Sessions:  sessions,
				Accounts:  auth.NewService(st, issuer),
				TokenTTL:  issuer.TTL(),
				Metrics:   metrics,

				AnswerTimeout: s.AnswerTimeout,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides INSTQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides INSTQA_PORT)")

	return cmd
}
