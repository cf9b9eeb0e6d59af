package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/exchangebot/core/bootstrap"
	corecmd "github.com/m3rciful/exchangebot/core/cmd"
	"github.com/m3rciful/exchangebot/core/logger"
	coretelegram "github.com/m3rciful/exchangebot/core/telegram"
	"github.com/m3rciful/exchangebot/core/telegram/router"
	tgsender "github.com/m3rciful/exchangebot/core/telegram/sender"
	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/exchange"
	"github.com/m3rciful/exchangebot/internal/metrics"
	"github.com/m3rciful/exchangebot/internal/ocr"
	"github.com/m3rciful/exchangebot/internal/ocr/tesseract"
	"github.com/m3rciful/exchangebot/internal/paymentmethods"
	"github.com/m3rciful/exchangebot/internal/proof"
	"github.com/m3rciful/exchangebot/internal/registration"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
	"github.com/m3rciful/exchangebot/migrations"
)

const pingTimeout = 5 * time.Second

// App owns the infrastructure of a running bot.
type App struct {
	cfg      *Config
	db       *sqlx.DB
	sessions session.Store
	closers  []func() error
	locker   *session.Locker
	metrics  *metrics.Collectors
	gateway  *Gateway
	handlers *Handlers

	stopMetrics context.CancelFunc
	metricsDone sync.WaitGroup
}

// loadCarrier adapts LoadConfig to the runner.
func loadCarrier(path string) (corecmd.ConfigCarrier, error) {
	return LoadConfig(path)
}

// RunnerOptions returns the runner options for the exchange bot.
func RunnerOptions() corecmd.Options {
	return corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        loadCarrier,
		Bootstrap:         Bootstrap,
	}
}

// Bootstrap initializes logging, the database, the session store and the flows.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("bot: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(bootstrap.Options{
		Config:     &cfg.Config,
		Database:   cfg.Database,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}
	app, err := newApp(cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return app, nil
}

func newApp(cfg *Config, db *sqlx.DB) (*App, error) {
	app := &App{
		cfg:     cfg,
		locker:  session.NewLocker(),
		metrics: metrics.New(),
	}
	app.gateway = NewGateway(app.metrics.OutboundFailure)

	sessions, closeSessions, err := openSessions(cfg.Session)
	if err != nil {
		return nil, err
	}
	app.sessions = sessions
	if closeSessions != nil {
		app.closers = append(app.closers, closeSessions)
	}

	acquirer, err := proof.NewAcquirer(proof.Config{
		Dir:      cfg.Proof.Dir,
		Timeout:  cfg.Proof.Timeout,
		MaxBytes: cfg.Proof.MaxBytes,
	}, coretelegram.NewHTTPClient(coretelegram.ClientOptions{Timeout: cfg.Proof.Timeout}))
	if err != nil {
		_ = app.close()
		return nil, err
	}
	extractor := ocr.NewService(tesseract.New(), ocr.Options{
		Language: cfg.OCR.Language,
		Timeout:  cfg.OCR.Timeout,
		Observe:  app.metrics.ObserveOCR,
	})

	pricing, err := cfg.Exchange.Pricing()
	if err != nil {
		_ = app.close()
		return nil, err
	}
	maxAmount, err := cfg.Exchange.MaxAmount()
	if err != nil {
		_ = app.close()
		return nil, err
	}
	users := storage.NewUserRepository(db)
	transactions := storage.NewTransactionRepository(db)
	machine, err := exchange.NewMachine(exchange.Config{
		Pricing:       pricing,
		Denominations: cfg.Exchange.Denominations,
		MaxAmountUSD:  maxAmount,
		Currency:      cfg.Exchange.Currency,
		Home:          chat.MainKeyboard,
	}, exchange.Deps{
		Sessions:  sessions,
		Gateway:   app.gateway,
		Proofs:    acquirer,
		Extractor: extractor,
		Recorder:  transactions,
		Observer:  app.metrics,
	})
	if err != nil {
		_ = app.close()
		return nil, err
	}

	app.handlers = NewHandlers(HandlerDeps{
		Sessions:     sessions,
		Exchange:     machine,
		Registration: registration.New(sessions, users, app.gateway, chat.MainKeyboard),
		Methods: paymentmethods.New(sessions, storage.NewPaymentMethodRepository(db),
			app.gateway, chat.MainKeyboard),
		Users:        users,
		History:      transactions,
		Gateway:      app.gateway,
	})

	logger.Exchange.Info("exchange configured",
		slog.String("event", "exchange.config"),
		slog.String("rate_bs", pricing.RateBs.String()),
		slog.String("commission_usd", pricing.CommissionUSD.String()),
		slog.String("session_backend", cfg.Session.Backend),
		slog.String("proof_dir", acquirer.Dir()),
	)
	app.db = db
	return app, nil
}

func openSessions(cfg SessionConfig) (session.Store, func() error, error) {
	if cfg.Backend != SessionRedis {
		return session.NewMemoryStore(), nil, nil
	}
	opts := []session.Option{session.WithTTL(cfg.TTL)}
	if cfg.Prefix != "" {
		opts = append(opts, session.WithPrefix(cfg.Prefix))
	}
	store := session.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("bot: redis session store: %w", err)
	}
	return store, store.Close, nil
}

// Registry declares the commands and menu buttons.
func (a *App) Registry() *coretelegram.Registry {
	h := a.handlers
	reg := coretelegram.NewRegistry()
	reg.RegisterCommand("/start", coretelegram.Command{Handler: h.Start, Description: "Iniciar el bot"})
	reg.RegisterCommand("/help", coretelegram.Command{
		Handler:     h.Help,
		Description: "Ayuda",
		Aliases:     []string{chat.ButtonHelp},
	})
	reg.RegisterCommand("/historial", coretelegram.Command{
		Handler:     h.History,
		Description: "Ver mis últimas operaciones",
		Aliases:     []string{chat.ButtonHistory},
	})
	reg.RegisterCommand("/cancel", coretelegram.Command{
		Handler:     h.Cancel,
		Description: "Cancelar la operación en curso",
		Aliases:     []string{chat.ButtonCancel},
	})
	reg.RegisterCommand("/cambio", coretelegram.Command{
		Handler:     h.Exchange,
		Description: "Realizar un cambio",
		Aliases:     []string{chat.ButtonExchange},
	})
	reg.RegisterCommand("/metodos", coretelegram.Command{
		Handler:     h.PaymentMethods,
		Description: "Mis métodos de pago",
		Aliases:     []string{chat.ButtonPaymentMethods},
	})
	reg.RegisterCommand("/registro", coretelegram.Command{
		Handler:     h.Register,
		Description: "Registrarme",
		Hidden:      true,
		Aliases:     []string{chat.ButtonRegister},
	})
	reg.RegisterCommand("/broadcast", coretelegram.Command{
		Handler:     h.Broadcast,
		Description: "Enviar un mensaje a todos los usuarios",
		AdminOnly:   true,
	})
	reg.SetTextFallback(h.UnknownText)
	reg.SetMediaFallback(h.UnknownMedia)
	return reg
}

// TelegramRunOptions assembles routes, middleware and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()
	reg := a.Registry()

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       core.Telegram.AdminID,
		OnAdminReject: a.handlers.RejectAdmin,
		OnPanic:       a.handlers.Panicked,
	})
	routes = append(routes, router.MessageRoutes(a.handlers, reg, router.MessageOptions{OnPanic: a.handlers.Panicked})...)

	return coretelegram.RunOptions{
		Config:   core,
		Registry: reg,
		Middlewares: coretelegram.DefaultMiddlewares(core, coretelegram.MiddlewareOptions{
			OnLimited: a.handlers.RateLimited,
			Locker:    a.locker,
		}),
		DispatcherOptions: tgsender.Options{OnFailure: a.metrics.OutboundFailure},
		Routes:            routes,
		OnStart:           a.onStart,
		OnStop:            a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt coretelegram.Runtime) error {
	if rt.Bot == nil {
		return errors.New("bot: runtime without telegram bot")
	}
	a.gateway.Attach(rt.Bot)

	listen := a.cfg.Metrics.Listen
	if listen == "" {
		return nil
	}
	metricsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopMetrics = cancel
	a.metricsDone.Add(1)
	go func() {
		defer a.metricsDone.Done()
		if err := a.metrics.Serve(metricsCtx, listen); err != nil {
			logger.Component("metrics").Error("metrics server failed",
				slog.String("event", "metrics.serve"),
				slog.String("err", err.Error()),
			)
		}
	}()
	return nil
}

func (a *App) onStop(context.Context, coretelegram.Runtime) error {
	if a.stopMetrics != nil {
		a.stopMetrics()
		a.metricsDone.Wait()
	}
	return a.close()
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
		a.db = nil
	}
	return errors.Join(errs...)
}
