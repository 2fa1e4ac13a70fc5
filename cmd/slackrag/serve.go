package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/a-h/slackrag"
	"github.com/a-h/slackrag/auth"
	"github.com/a-h/slackrag/gcs"
	contextpost "github.com/a-h/slackrag/handlers/context/post"
	documentspost "github.com/a-h/slackrag/handlers/documents/post"
	querypost "github.com/a-h/slackrag/handlers/query/post"
	"github.com/a-h/slackrag/imagetext"
	"github.com/a-h/slackrag/loader"
	"github.com/a-h/slackrag/prompts"
	"github.com/a-h/slackrag/search"
	"github.com/a-h/slackrag/slackbot"
	"github.com/a-h/slackrag/telemetry"
	"github.com/a-h/slackrag/vectorstore"
	"github.com/a-h/slackrag/websearch"
	"github.com/rs/cors"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"
)

type ServeCommand struct {
	ProviderFlags
	StoreFlags
	Environment        string   `help:"Set to prod to receive Slack events over HTTP instead of Socket Mode." env:"APP_ENVIRONMENT" default:""`
	Port               string   `help:"The port to listen on when no listen address is set." env:"PORT" default:"8080"`
	ListenAddr         string   `help:"The address to listen on." env:"LISTEN_ADDR" default:""`
	TLSCertFile        string   `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile         string   `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	SlackBotToken      string   `help:"The Slack bot token." env:"SLACK_BOT_TOKEN" default:""`
	SlackAppToken      string   `help:"The Slack app-level token, used by Socket Mode." env:"SLACK_APP_TOKEN" default:""`
	SlackSigningSecret string   `help:"The Slack signing secret, used to verify HTTP events." env:"SLACK_SIGNING_SECRET" default:""`
	DataStore          string   `help:"The Vertex AI Search data store of web pages." env:"DATA_STORE_WEB" default:""`
	SearchLocation     string   `help:"The location of the search data store." env:"SEARCH_LOCATION" default:"global"`
	Bucket             string   `help:"The Cloud Storage bucket that images are archived to." env:"BUCKET_NAME" default:""`
	FilterWords        []string `help:"Words removed from search keywords." env:"FILTER_WORDS" sep:","`
	CheckText          string   `help:"The forbidden text images are checked for when a mention has no text." env:"CHECK_TEXT" default:""`
	PromptsFile        string   `help:"A YAML file of prompt overrides." env:"PROMPTS_FILE" default:""`
	APIKeysFile        string   `help:"The file containing a JSON map of API keys to usernames." env:"API_KEYS_FILE" default:"apikeys.json"`
	OTLPEndpoint       string   `help:"The OTLP gRPC endpoint (host:port) to export traces to." env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:""`
	LogLevel           string   `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func (c ServeCommand) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return ":" + c.Port
}

// ErrMissingSigningSecret is returned when Slack events would be received over HTTP
// without a secret to verify them with.
var ErrMissingSigningSecret = errors.New("SLACK_SIGNING_SECRET must be set when APP_ENVIRONMENT is prod")

func (c ServeCommand) receivesEventsOverHTTP() bool {
	return c.Environment == "prod"
}

func (c ServeCommand) Validate() error {
	if c.receivesEventsOverHTTP() && c.SlackSigningSecret == "" {
		return ErrMissingSigningSecret
	}
	return nil
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	if err = c.Validate(); err != nil {
		return err
	}
	log := getLogger(c.LogLevel)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "slackrag", slackrag.Version, c.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("failed to flush traces", slog.Any("error", err))
		}
	}()

	p, err := prompts.Load(c.PromptsFile)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	backend, closeBackend, err := c.OpenBackend(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer closeBackend()

	log.Info("creating LLM clients", slog.String("provider", c.LLMProvider))
	httpClient := &http.Client{}
	emb, err := c.NewEmbedder(ctx, httpClient)
	if err != nil {
		return err
	}
	keywordLLM, err := c.NewModel(ctx, log, httpClient, "keyword", c.KeywordModel)
	if err != nil {
		return err
	}
	answerLLM, err := c.NewModel(ctx, log, httpClient, "answer", c.AnswerModel)
	if err != nil {
		return err
	}
	visionLLM, err := c.NewModel(ctx, log, httpClient, "vision", c.VisionModel)
	if err != nil {
		return err
	}
	checkLLM, err := c.NewModel(ctx, log, httpClient, "check", c.CheckModel)
	if err != nil {
		return err
	}

	searcher, err := search.New(ctx, log, search.Config{
		ProjectID: c.ProjectID,
		Location:  c.SearchLocation,
		DataStore: c.DataStore,
	})
	if err != nil {
		return err
	}
	uploader, err := gcs.New(ctx, log, c.Bucket)
	if err != nil {
		return err
	}

	store := vectorstore.New(log, emb, backend, c.Partition())
	pageLoader := loader.New(log)
	pipeline := websearch.New(log, keywordLLM, answerLLM, searcher, pageLoader, store, p)
	extractor := imagetext.New(log, visionLLM, checkLLM, p)

	api := slack.New(c.SlackBotToken, slack.OptionAppLevelToken(c.SlackAppToken))
	slackClient := slackbot.NewClient(api)
	bot := slackbot.New(log, slackClient, slackClient, pipeline, extractor, uploader, slackbot.Config{
		FilterWords: c.FilterWords,
		CheckText:   c.CheckText,
	})

	apiMux := http.NewServeMux()
	apiMux.Handle("POST /query", querypost.New(log, pipeline, c.FilterWords))
	apiMux.Handle("POST /context", contextpost.New(log, store.Retriever(websearch.NumberOfResults)))
	apiMux.Handle("POST /documents", documentspost.New(log, pageLoader, store))

	apiKeyToUserName, err := auth.LoadFromFile(c.APIKeysFile)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}
	authenticatedMux := auth.New(log, apiKeyToUserName, apiMux)
	withCORSAuthenticatedMux := cors.AllowAll().Handler(authenticatedMux)

	mux := http.NewServeMux()
	mux.Handle("/", withCORSAuthenticatedMux)
	if c.receivesEventsOverHTTP() {
		mux.Handle("POST /slack/events", slackbot.NewEventsHandler(log, c.SlackSigningSecret, bot))
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s := &http.Server{
		Addr:              c.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.listen(ctx, log, s)
	})
	if !c.receivesEventsOverHTTP() {
		if c.SlackAppToken == "" {
			log.Warn("SLACK_APP_TOKEN is not set, Socket Mode is disabled")
		} else {
			g.Go(func() error {
				err := slackbot.RunSocketMode(ctx, log, api, bot)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}
	err = g.Wait()
	bot.Wait()
	return err
}

func (c ServeCommand) listen(ctx context.Context, log *slog.Logger, s *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		log.Info("Listening", slog.String("addr", s.Addr), slog.String("environment", c.Environment))
		if s.TLSConfig != nil {
			errs <- s.ListenAndServeTLS("", "")
			return
		}
		errs <- s.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
