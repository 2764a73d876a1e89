package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/helpchat/internal/api"
	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/config"
	"github.com/matheus3301/helpchat/internal/engine"
	"github.com/matheus3301/helpchat/internal/locale"
	"github.com/matheus3301/helpchat/internal/lock"
	"github.com/matheus3301/helpchat/internal/logging"
	"github.com/matheus3301/helpchat/internal/outbox"
	"github.com/matheus3301/helpchat/internal/prefs"
	"github.com/matheus3301/helpchat/internal/profile"
	"github.com/matheus3301/helpchat/internal/status"
	"github.com/matheus3301/helpchat/internal/store"
	"github.com/matheus3301/helpchat/internal/transport"
	"github.com/matheus3301/helpchat/internal/typing"
	"github.com/matheus3301/helpchat/internal/uploader"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxDraftAttachments bounds the attachments kept in one draft.
const maxDraftAttachments = 10

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	Settings    config.Profile
	SocketPath  string // optional override for testing; empty = use default
}

func (p Params) socket() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return profile.SocketPath(p.ProfileName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			providePrefs,
			provideLocalizer,
			provideDrafts,
			provideUploader,
			provideTransport,
			provideSender,
			provideController,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.Settings.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName), p.socket())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func providePrefs(db *store.DB) *prefs.Prefs {
	return prefs.New(db)
}

func provideLocalizer(p Params, logger *zap.Logger) (*locale.Localizer, error) {
	l := locale.New(p.Settings.Locale)
	if p.Settings.LocaleFile != "" {
		if err := l.LoadOverrides(p.Settings.LocaleFile); err != nil {
			return nil, err
		}
		logger.Info("locale overrides loaded", zap.String("path", p.Settings.LocaleFile))
	}
	logger.Info("locale resolved", zap.String("language", l.Language()))
	return l, nil
}

func provideDrafts(p Params, _ *lock.Lock) (*typing.Cache, error) {
	return typing.Open(profile.DraftsPath(p.ProfileName), maxDraftAttachments)
}

func provideUploader(p Params, logger *zap.Logger) *uploader.Uploader {
	return uploader.New(uploader.Config{
		Endpoint:    p.Settings.UploadEndpoint,
		Concurrency: p.Settings.UploadConcurrency,
		LimitMB:     p.Settings.UploadLimitMB,
	}, logger)
}

func provideTransport(p Params, m *status.Machine, logger *zap.Logger) *transport.Client {
	return transport.New(transport.Config{
		Endpoint:    p.Settings.Endpoint,
		ClientToken: p.Settings.ClientToken,
		Backoff:     transport.DefaultBackoff(),
	}, m, logger)
}

// provideSender builds the outbox without a listener; provideController
// closes the loop.
func provideSender(db *store.DB, tc *transport.Client, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, tc, nil, logger)
}

func provideController(
	p Params,
	db *store.DB,
	pr *prefs.Prefs,
	tc *transport.Client,
	up *uploader.Uploader,
	drafts *typing.Cache,
	loc *locale.Localizer,
	sender *outbox.Sender,
	b *bus.Bus,
	m *status.Machine,
	logger *zap.Logger,
) *engine.Controller {
	ctrl := engine.NewController(engine.Deps{
		Storage:   db,
		Prefs:     pr,
		Transport: tc,
		Uploader:  up,
		Typing:    drafts,
		Locale:    loc,
		Sender:    sender,
		Bus:       b,
		Status:    m,
		Logger:    logger,
	}, engine.Identity{
		ClientToken: p.Settings.ClientToken,
		ClientHash:  p.Settings.ClientHash,
	})
	tc.SetHandler(ctrl)
	sender.SetListener(ctrl)
	return ctrl
}

func provideChatService(p Params, ctrl *engine.Controller, db *store.DB, drafts *typing.Cache, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.ProfileName, ctrl, db, drafts, m, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	ctrl *engine.Controller,
	tc *transport.Client,
	sender *outbox.Sender,
	loc *locale.Localizer,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	transportDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restores the stored chat before any socket traffic arrives.
			ctrl.Start(runCtx)
			sender.Start(runCtx)

			if p.Settings.LocaleFile != "" {
				if err := loc.Watch(runCtx, p.Settings.LocaleFile, logger); err != nil {
					logger.Warn("locale overrides will not be reloaded", zap.Error(err))
				}
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				defer close(transportDone)
				if err := tc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("transport stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			cancel()
			select {
			case <-transportDone:
			case <-ctx.Done():
				logger.Warn("transport did not stop in time")
			}
			sender.Stop()
			ctrl.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
