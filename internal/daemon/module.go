package daemon

import (
	"context"
	"time"

	"github.com/linnet-im/linnet/internal/apiclient"
	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/chat"
	"github.com/linnet-im/linnet/internal/config"
	"github.com/linnet-im/linnet/internal/draft"
	"github.com/linnet-im/linnet/internal/group"
	"github.com/linnet-im/linnet/internal/idle"
	"github.com/linnet-im/linnet/internal/ingest"
	"github.com/linnet-im/linnet/internal/lock"
	"github.com/linnet-im/linnet/internal/logging"
	"github.com/linnet-im/linnet/internal/notify"
	"github.com/linnet-im/linnet/internal/outbox"
	"github.com/linnet-im/linnet/internal/profile"
	"github.com/linnet-im/linnet/internal/queue"
	"github.com/linnet-im/linnet/internal/socket"
	"github.com/linnet-im/linnet/internal/status"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAPIClient,
			provideIdleExecutor,
			provideGroupRegistry,
			provideDraftManager,
			provideNotifier,
			provideReconciler,
			provideDispatcher,
			provideQueue,
			provideSocketClient,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
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
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
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

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *apiclient.Client {
	return apiclient.New(cfg.Server.APIBaseURL, logger)
}

func provideIdleExecutor(cfg *config.Config, logger *zap.Logger) *idle.Executor {
	return idle.New(idle.Options{
		MaxWorkPerIdle: time.Duration(cfg.Idle.MaxWorkPerIdleMs) * time.Millisecond,
	}, logger)
}

func provideGroupRegistry(logger *zap.Logger) *group.Registry {
	return group.NewRegistry(logger)
}

func provideDraftManager(cfg *config.Config, db *store.DB, logger *zap.Logger) *draft.Manager {
	return draft.NewManager(db, time.Duration(cfg.Draft.DebounceMs)*time.Millisecond, logger)
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) *notify.Notifier {
	return notify.New(b, logger)
}

func provideReconciler(cfg *config.Config, db *store.DB, api *apiclient.Client, exec *idle.Executor, drafts *draft.Manager, notifier *notify.Notifier, b *bus.Bus, logger *zap.Logger) *chat.Reconciler {
	return chat.NewReconciler(cfg.Account.UserID, db, api, exec, drafts, notifier, b, chat.Options{}, logger)
}

func provideDispatcher(rec *chat.Reconciler, groups *group.Registry, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *ingest.Dispatcher {
	return ingest.NewDispatcher(rec, groups, machine, b, logger)
}

func provideQueue(cfg *config.Config, d *ingest.Dispatcher, logger *zap.Logger) *queue.Queue {
	return queue.New(queue.Options{
		MaxFrameTime:          time.Duration(cfg.Queue.MaxFrameTimeMs) * time.Millisecond,
		InitialBatchSize:      cfg.Queue.InitialBatchSize,
		MaxBatchSize:          cfg.Queue.MaxBatchSize,
		BackpressureThreshold: cfg.Queue.BackpressureThreshold,
		EnablePriority:        cfg.Queue.EnablePriority,
	}, d.Handle, logger)
}

func provideSocketClient(cfg *config.Config, q *queue.Queue, machine *status.Machine, logger *zap.Logger) *socket.Client {
	return socket.NewClient(socket.Options{
		URL:    cfg.Server.SocketURL,
		UserID: cfg.Account.UserID,
		Token:  cfg.Account.Token,
	}, q, machine, logger)
}

func provideSender(cfg *config.Config, db *store.DB, api *apiclient.Client, rec *chat.Reconciler, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, api, rec, cfg.Account.UserID, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, exec *idle.Executor, q *queue.Queue, sock *socket.Client, sender *outbox.Sender, rec *chat.Reconciler, drafts *draft.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	var unsubscribe func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			exec.Start(context.Background())
			q.Start(context.Background())

			if err := rec.Load(context.Background()); err != nil {
				return err
			}
			if err := drafts.Load(); err != nil {
				logger.Warn("draft warmup failed", zap.Error(err))
			}

			// Once the socket registers, pull what was missed offline,
			// then declare the session ready.
			events, unsub := b.Subscribe("session.registered", 4)
			unsubscribe = unsub
			go func() {
				for range events {
					rec.SyncOffline(context.Background())
					if err := machine.Transition(status.Ready); err != nil {
						logger.Warn("ready transition rejected", zap.Error(err))
					}
				}
			}()

			sock.Start(context.Background())
			sender.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			sock.Stop()
			q.Stop()
			sender.Stop()
			if unsubscribe != nil {
				unsubscribe()
			}
			// Drains queued persistence work before the store closes.
			exec.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
