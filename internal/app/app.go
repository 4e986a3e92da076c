// Package app wires configuration into a ready handler for both entrypoints.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"shop-assistant/handler"
	"shop-assistant/internal/assistant"
	"shop-assistant/internal/config"
	"shop-assistant/internal/deadletter"
	"shop-assistant/internal/integrations/gemini"
	"shop-assistant/internal/integrations/openai"
	"shop-assistant/internal/integrations/paramstore"
	"shop-assistant/internal/metrics"
	"shop-assistant/internal/repository"
	"shop-assistant/internal/seed"
	"shop-assistant/internal/storage/memory"
	"shop-assistant/internal/storage/postgres"
	"shop-assistant/internal/storage/sqlite"
	"shop-assistant/internal/usecase"
)

const (
	Version = "1.0.0"

	geminiTokenKey   = "gemini-token"
	openAITokenKey   = "open-ai-token"
	openAIModelParam = "/config/openai_model"
)

type catalogStore interface {
	usecase.CatalogReader
	seed.Store
}

// App is the assembled service. Close releases every connection it opened.
type App struct {
	Handler *handler.Handler
	Metrics *metrics.Metrics

	closers []func() error
}

type Option func(*builder)

// WithCompleter replaces the provider client selected by LLM_PROVIDER.
func WithCompleter(c assistant.Completer) Option {
	return func(b *builder) { b.completer = c }
}

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(b *builder) { b.aws = &cfg }
}

type builder struct {
	cfg       config.Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	completer assistant.Completer
	aws       *aws.Config
	sqlite    *sql.DB
	params    *paramstore.Client
	closers   []func() error
}

// Build opens the configured backends, seeds the catalog when asked to and
// returns the handler. On error everything opened so far is closed.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	b := &builder{cfg: cfg, log: log, metrics: metrics.New()}
	for _, opt := range opts {
		opt(b)
	}
	defer func() {
		if err != nil {
			closeAll(b.closers)
		}
	}()

	catalog, err := b.catalog(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.SeedCatalog {
		n, err := seed.Load(ctx, catalog)
		if err != nil {
			return nil, fmt.Errorf("app: seed catalog: %w", err)
		}
		if n > 0 {
			log.Info().Int("products", n).Msg("catalog seeded")
		}
	}

	history, err := b.history(ctx)
	if err != nil {
		return nil, err
	}

	completer, model, fallback, err := b.provider(ctx)
	if err != nil {
		return nil, err
	}
	responder, err := assistant.New(completer, assistant.Options{
		Model:         model,
		FallbackModel: fallback,
		Timeout:       cfg.ProviderTimeout,
		Logger:        &b.log,
		Metrics:       b.metrics,
	})
	if err != nil {
		return nil, err
	}

	chatOpts := usecase.ChatOptions{
		WindowSize:             cfg.ContextWindow,
		MaxMessageLength:       cfg.MaxMessageLength,
		ConcurrentSessionTurns: !cfg.SerializeSessions,
		Logger:                 &b.log,
		Metrics:                b.metrics,
	}
	if cfg.DeadLetterEnabled() {
		pub, err := b.deadLetter()
		if err != nil {
			return nil, err
		}
		chatOpts.DeadLetter = pub
	}
	chat, err := usecase.NewChatService(catalog, history, responder, chatOpts)
	if err != nil {
		return nil, err
	}
	catalogSvc, err := usecase.NewCatalogService(catalog)
	if err != nil {
		return nil, err
	}

	h, err := handler.NewHandler(chat, catalogSvc, handler.Options{
		Version: Version,
		Logger:  &b.log,
		Metrics: b.metrics,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("catalog", cfg.CatalogBackend).
		Str("history", cfg.HistoryBackend).
		Str("provider", cfg.LLMProvider).
		Str("model", responder.ActiveModel()).
		Bool("deadletter", cfg.DeadLetterEnabled()).
		Msg("service assembled")
	return &App{Handler: h, Metrics: b.metrics, closers: b.closers}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	return closeAll(a.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---- Stores ----

func (b *builder) catalog(ctx context.Context) (catalogStore, error) {
	switch b.cfg.CatalogBackend {
	case config.BackendMemory:
		return memory.NewCatalog(), nil
	case config.BackendSQLite:
		db, err := b.sqliteDB(ctx)
		if err != nil {
			return nil, err
		}
		return sqlite.NewCatalog(db, sqlite.WithMetrics(b.metrics))
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, b.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		return postgres.NewCatalog(pool, b.metrics)
	default:
		return nil, fmt.Errorf("app: unknown catalog backend %q", b.cfg.CatalogBackend)
	}
}

func (b *builder) history(ctx context.Context) (usecase.ConversationStore, error) {
	switch b.cfg.HistoryBackend {
	case config.BackendMemory:
		return memory.NewConversations(), nil
	case config.BackendSQLite:
		db, err := b.sqliteDB(ctx)
		if err != nil {
			return nil, err
		}
		return sqlite.NewConversations(db, sqlite.WithMetrics(b.metrics))
	case config.BackendDynamoDB:
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), b.cfg.StateTable, repository.WithMetrics(b.metrics))
	default:
		return nil, fmt.Errorf("app: unknown history backend %q", b.cfg.HistoryBackend)
	}
}

// sqliteDB opens the database once; catalog and history share it.
func (b *builder) sqliteDB(ctx context.Context) (*sql.DB, error) {
	if b.sqlite != nil {
		return b.sqlite, nil
	}
	db, err := sqlite.OpenDB(b.cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, db.Close)
	if err := sqlite.InitSchema(ctx, db); err != nil {
		return nil, err
	}
	b.sqlite = db
	return db, nil
}

// ---- Provider ----

func (b *builder) provider(ctx context.Context) (assistant.Completer, string, string, error) {
	switch b.cfg.LLMProvider {
	case config.ProviderOpenAI:
		if b.completer != nil {
			return b.completer, b.cfg.OpenAIModel, b.cfg.OpenAIFallbackModel, nil
		}
		params, err := b.paramStore(ctx)
		if err != nil {
			return nil, "", "", err
		}
		opts := []openai.Option{openai.WithTemperature(b.cfg.Temperature)}
		if b.cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(b.cfg.OpenAIBaseURL))
		}
		c, err := openai.NewClient(params.TokenFunc(openAITokenKey), opts...)
		if err != nil {
			return nil, "", "", err
		}
		model := b.cfg.OpenAIModel
		if model == "" {
			if model, err = params.GetParameter(ctx, b.cfg.ParamPrefix+openAIModelParam); err != nil {
				return nil, "", "", fmt.Errorf("app: load openai model: %w", err)
			}
		}
		return c, model, b.cfg.OpenAIFallbackModel, nil
	default:
		if b.completer != nil {
			return b.completer, b.cfg.GeminiModel, b.cfg.GeminiFallbackModel, nil
		}
		key := b.cfg.GeminiAPIKey
		if key == "" {
			params, err := b.paramStore(ctx)
			if err != nil {
				return nil, "", "", err
			}
			if key, err = params.Token(ctx, geminiTokenKey); err != nil {
				return nil, "", "", err
			}
		}
		opts := []gemini.Option{gemini.WithTemperature(float32(b.cfg.Temperature))}
		if b.cfg.GeminiBaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(b.cfg.GeminiBaseURL))
		}
		c, err := gemini.NewClient(ctx, key, opts...)
		if err != nil {
			return nil, "", "", err
		}
		return c, b.cfg.GeminiModel, b.cfg.GeminiFallbackModel, nil
	}
}

func (b *builder) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if b.params != nil {
		return b.params, nil
	}
	awsCfg, err := b.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), b.cfg.ParamPrefix)
	if err != nil {
		return nil, err
	}
	b.params = params
	return params, nil
}

func (b *builder) awsConfig(ctx context.Context) (aws.Config, error) {
	if b.aws != nil {
		return *b.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
	}
	b.aws = &cfg
	return cfg, nil
}

// ---- Dead letter ----

func (b *builder) deadLetter() (*deadletter.Publisher, error) {
	sc, err := deadletter.Connect(b.cfg.STANClusterID, b.cfg.STANClientID, b.cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, sc.Close)
	return deadletter.New(sc, b.cfg.DeadLetterSubject)
}
