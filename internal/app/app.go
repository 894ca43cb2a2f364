// Package app composes the chat core from configuration. Both binaries
// build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"phai/internal/config"
	"phai/internal/domain"
	"phai/internal/integrations/gemini"
	"phai/internal/integrations/paramstore"
	"phai/internal/repository"
	"phai/internal/sessions"
	"phai/internal/usecase"
)

// sqliteFile is the database name inside the store directory.
const sqliteFile = "phai.db"

// App owns the coordinator and the resources behind it.
type App struct {
	Chat     *usecase.Coordinator
	Registry *sessions.Registry

	closers []io.Closer
}

// loadAWS is swapped in tests.
var loadAWS = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// New opens the store, restores saved conversations and starts a new chat.
// A missing or unusable API key is not an error: the chat comes up
// unavailable and shows the setup message.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	lazy := &lazyAWS{}

	kv, err := a.openStore(ctx, cfg, lazy)
	if err != nil {
		return nil, err
	}

	registry, err := sessions.New(kv, cfg.StorageKey, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := registry.Load(ctx); err != nil {
		// Start with an empty list rather than refusing to run.
		logger.Error("failed to load saved conversations", "err", err)
	}

	factory := newSessionFactory(ctx, cfg, lazy, logger)
	chat, err := usecase.NewCoordinator(registry, factory,
		usecase.WithLogger(logger),
		usecase.WithTypingDelay(cfg.TypingDelay, cfg.ReplayTypingDelay),
		usecase.WithSettleMargin(cfg.SettleMargin),
		usecase.WithResponseTimeout(cfg.ResponseTimeout),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	chat.NewChat(ctx)

	a.Chat = chat
	a.Registry = registry
	return a, nil
}

// Close abandons in-flight work and releases the store.
func (a *App) Close() error {
	if a.Chat != nil {
		a.Chat.Close()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, cfg config.Config, lazy *lazyAWS) (repository.KV, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemoryStore(), nil
	case config.StoreFile:
		return repository.NewFileStore(cfg.StorePath)
	case config.StoreSQLite:
		s, err := repository.OpenSQLite(filepath.Join(cfg.StorePath, sqliteFile))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.StoreDynamoDB:
		awsCfg, err := lazy.get(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	default:
		return nil, fmt.Errorf("app: unknown store %q", cfg.Store)
	}
}

// newSessionFactory returns nil when no API key can be found, which leaves
// the coordinator unavailable.
func newSessionFactory(ctx context.Context, cfg config.Config, lazy *lazyAWS, logger *slog.Logger) usecase.SessionFactory {
	key, err := resolveAPIKey(ctx, cfg, lazy)
	if err != nil {
		logger.Error("failed to resolve API key", "err", err)
		return nil
	}
	opts := []gemini.Option{
		gemini.WithModel(cfg.Model),
		gemini.WithGoogleSearch(cfg.GoogleSearch),
		gemini.WithLogger(logger),
	}
	// An empty prompt in config means the built-in one.
	if cfg.SystemPrompt != "" {
		opts = append(opts, gemini.WithSystemPrompt(cfg.SystemPrompt))
	}
	client, err := gemini.NewClient(ctx, key, opts...)
	if err != nil {
		logger.Error("failed to create model client", "err", err)
		return nil
	}
	return func(ctx context.Context, history []domain.HistoryEntry) (usecase.ModelSession, error) {
		s, err := client.NewSession(ctx, history)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func resolveAPIKey(ctx context.Context, cfg config.Config, lazy *lazyAWS) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	if strings.TrimSpace(cfg.APIKeyParam) == "" {
		return "", gemini.ErrMissingAPIKey
	}
	awsCfg, err := lazy.get(ctx)
	if err != nil {
		return "", err
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return "", err
	}
	resolver, err := paramstore.NewSecretResolver(ssmClient, cfg.APIKeyParam)
	if err != nil {
		return "", err
	}
	return resolver.Resolve(ctx)
}

// lazyAWS loads the SDK configuration on first use so local setups never
// touch AWS.
type lazyAWS struct {
	cfg    aws.Config
	err    error
	loaded bool
}

func (l *lazyAWS) get(ctx context.Context) (aws.Config, error) {
	if !l.loaded {
		l.cfg, l.err = loadAWS(ctx)
		if l.err != nil {
			l.err = fmt.Errorf("app: load AWS config: %w", l.err)
		}
		l.loaded = true
	}
	return l.cfg, l.err
}
