package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/eventbus"
	"remindd/internal/httpapi"
	"remindd/internal/invoker"
	"remindd/internal/sender"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// App wires configuration, logging, storage, senders, the execution engine,
// the invoker and the HTTP API. Every capability is injected; there are no
// process-wide singletons.
type App struct {
	cm     *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store
	eng   *engine.Engine
	inv   *invoker.Service
	api   *httpapi.Server

	cfgCh       chan *config.Config
	watchCancel context.CancelFunc
	busUnsub    func()
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cm := config.NewConfigManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(resolveLogging(cfg.Logging))
	cm.SetLogger(log.With(logx.String("comp", "config")))
	cm.SetValidator(func(ctx context.Context, c *config.Config) error { return c.Validate() })

	return &App{cm: cm, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cm.Get()

	a.bus = eventbus.New()

	store, err := storage.Open(ctx, resolveStorage(cfg.Storage), a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	senderCfg := resolveSender(cfg.Sender)
	var awsOpts []func(*awsconfig.LoadOptions) error
	if senderCfg.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(senderCfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	email := sender.NewSESSender(awsCfg, senderCfg, a.log.With(logx.String("comp", "ses")))
	sms := sender.NewSNSSender(awsCfg, senderCfg, a.log.With(logx.String("comp", "sns")))
	limited := sender.NewLimited(email, sms, senderCfg.RatePerSec)

	a.eng = engine.New(resolveEngine(cfg.Engine), store, limited, limited, a.bus,
		a.log.With(logx.String("comp", "engine")))

	a.inv = invoker.New(resolveInvoker(cfg.Invoker), a.eng, store, a.bus,
		a.log.With(logx.String("comp", "invoker")))
	a.inv.Start(ctx)

	a.api = httpapi.New(resolveHTTP(cfg), store, a.inv, a.bus,
		a.log.With(logx.String("comp", "http")))
	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}

	a.watchEvents()
	a.watchConfig(ctx)

	a.log.Info("remindd started", logx.String("storage", cfg.Storage.Driver))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.cfgCh != nil {
		a.cm.Unsubscribe(a.cfgCh)
		a.cfgCh = nil
	}
	if a.busUnsub != nil {
		a.busUnsub()
	}
	if a.api != nil {
		a.api.Stop(ctx)
	}
	if a.inv != nil {
		a.inv.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.wg.Wait()
	a.log.Info("remindd stopped")
	_ = a.logSvc.Close()
	return nil
}

// watchEvents logs reminder lifecycle events from the bus.
func (a *App) watchEvents() {
	ch, unsub := a.bus.Subscribe(64)
	a.busUnsub = unsub
	log := a.log.With(logx.String("comp", "events"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for ev := range ch {
			re, ok := ev.Data.(eventbus.ReminderEvent)
			if !ok {
				continue
			}
			fields := []logx.Field{
				logx.String("type", ev.Type),
				logx.String("id", re.ID),
			}
			if re.Error != "" {
				fields = append(fields, logx.String("err", re.Error))
			}
			switch ev.Type {
			case eventbus.TypeSendFailed, eventbus.TypeExhausted:
				log.Warn("reminder event", fields...)
			default:
				log.Debug("reminder event", fields...)
			}
		}
	}()
}

// watchConfig applies hot-reloaded config to the live services.
func (a *App) watchConfig(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	a.cfgCh = a.cm.Subscribe(4)
	old := a.cm.Get()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cm.Watch(wctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-a.cfgCh:
				if !ok || cfg == nil {
					return
				}
				changed, attrs := config.SummarizeConfigChange(old, cfg)
				old = cfg
				if len(changed) == 0 {
					continue
				}
				a.log.Info("config reloaded", append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)

				a.logSvc.Apply(resolveLogging(cfg.Logging))
				a.eng.Apply(resolveEngine(cfg.Engine))
				a.inv.Apply(resolveInvoker(cfg.Invoker))
				a.api.Apply(resolveHTTP(cfg))
			}
		}
	}()
}

// ---- config resolution (raw duration strings -> typed service configs) ----
//
// Config.Validate already parsed every duration, so errors are ignored here.

func resolveLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func resolveStorage(c config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
		Table:       c.Table,
		Region:      c.Region,
		Endpoint:    c.Endpoint,
		OwnerIndex:  c.OwnerIndex,
	}
}

func resolveEngine(c config.EngineConfig) engine.Config {
	ack, _ := config.ParseDurationOrDefault("engine.ack_window", c.AckWindow, 5*time.Minute)
	st, _ := config.ParseDurationOrDefault("engine.store_timeout", c.StoreTimeout, 5*time.Second)
	maxRetry := c.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return engine.Config{MaxRetryCount: maxRetry, AckWindow: ack, StoreTimeout: st}
}

func resolveInvoker(c config.InvokerConfig) invoker.Config {
	execTimeout, _ := config.ParseDurationField("invoker.exec_timeout", c.ExecTimeout)
	sweep, _ := config.ParseDurationField("invoker.sweep_every", c.SweepEvery)
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return invoker.Config{
		Enabled:     enabled,
		Workers:     c.Workers,
		QueueSize:   c.QueueSize,
		ExecTimeout: execTimeout,
		SweepEvery:  sweep,
		SweepLimit:  c.SweepLimit,
	}
}

func resolveSender(c config.SenderConfig) sender.Config {
	timeout, _ := config.ParseDurationField("sender.timeout", c.Timeout)
	return sender.Config{
		Region:     c.Region,
		Timeout:    timeout,
		RatePerSec: c.RatePerSec,
		CharSet:    c.CharSet,
	}
}

func resolveHTTP(cfg *config.Config) httpapi.Config {
	c := cfg.HTTP
	readTO, _ := config.ParseDurationField("http.read_timeout", c.ReadTimeout)
	writeTO, _ := config.ParseDurationField("http.write_timeout", c.WriteTimeout)
	minLead, _ := config.ParseDurationField("window.min_delay", cfg.Window.MinDelay)
	maxLead, _ := config.ParseDurationField("window.max_delay", cfg.Window.MaxDelay)
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return httpapi.Config{
		Enabled:      enabled,
		Addr:         c.Addr,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		MinLead:      minLead,
		MaxLead:      maxLead,
	}
}
