package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/app"
	"github.com/repodrop/repodrop/internal/config"
	"github.com/repodrop/repodrop/internal/filesource"
	"github.com/repodrop/repodrop/internal/journal"
	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/internal/repoclient"
	"github.com/repodrop/repodrop/internal/session"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// env is everything a command needs to talk to the repository.
type env struct {
	cfg     *config.Config
	sess    *session.Session
	api     *repoapi.Client
	repo    *repoclient.Client
	journal *journal.Store
}

// setup loads configuration, initializes logging and restores the saved
// session. Logs go to stderr so command output stays clean.
func setup(ctx context.Context) (*env, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
	}); err != nil {
		return nil, fmt.Errorf("logging init error: %w", err)
	}

	sess, err := session.New(ctx, session.Config{
		ClientID:     cfg.ClientID,
		RedirectURI:  cfg.RedirectURI,
		HostName:     cfg.HostName,
		Scopes:       cfg.Scopes(),
		IssuerURL:    cfg.OAuthIssuerURL,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		WebClientURL: cfg.WebClientURL,
		TokenFile:    cfg.TokenFile,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Restore(); err != nil {
		logging.Warn("saved token ignored", zap.Error(err))
	}

	api := repoapi.New(repoapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Observe: metrics.RecordAPICall,
	}, sess.RequestHandler())
	repo := repoclient.New(api)
	sess.OnInvalidate(repo.ClearCurrentRepo)

	return &env{cfg: cfg, sess: sess, api: api, repo: repo}, nil
}

// openJournal connects to the import journal when DATABASE_URL is set.
func (rt *env) openJournal(ctx context.Context) (*journal.Store, error) {
	if rt.cfg.DatabaseURL == "" {
		return nil, nil
	}
	logging.Info("connecting to PostgreSQL...")
	store, err := journal.New(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	rt.journal = store
	return store, nil
}

func (rt *env) close() {
	if rt.journal != nil {
		rt.journal.Close()
	}
	logging.Sync()
}

func (rt *env) files() *filesource.Source {
	return filesource.New(filesource.S3Config{
		Endpoint:  rt.cfg.S3Endpoint,
		Region:    rt.cfg.S3Region,
		AccessKey: rt.cfg.S3AccessKey,
		SecretKey: rt.cfg.S3SecretKey,
	}, rt.cfg.MaxUploadSize)
}

// controller builds a signed-in controller for the one-shot commands.
func (rt *env) controller(ctx context.Context, notifier app.Notifier) (*app.Controller, error) {
	if !rt.sess.IsLoggedIn() {
		return nil, fmt.Errorf("%w: run 'repodrop login' first", session.ErrNotLoggedIn)
	}
	opts := app.Options{
		Auth:          rt.sess,
		Repo:          rt.repo,
		Notifier:      notifier,
		Locale:        rt.cfg.Locale,
		ViewDocuments: rt.cfg.ViewDocuments,
	}
	if rt.journal != nil {
		opts.Journal = rt.journal
	}
	ctrl := app.New(opts)
	if err := ctrl.OnLoginCompleted(ctx); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// stderrNotifier prints user-facing alerts.
type stderrNotifier struct{}

func (stderrNotifier) Alert(ctx context.Context, msg string) {
	fmt.Fprintln(os.Stderr, msg)
}
