// Package app is the application root named in spec.md §9: it constructs
// the Identity Store, Device Cache, Broker Engine, Scheduler, Bridge, and
// HTTP adapters, wires them together, and owns the background loops and
// shutdown sequence. No package below this one reaches for a global.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/meshgate/iotbroker/bridge"
	"github.com/meshgate/iotbroker/broker"
	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/config"
	"github.com/meshgate/iotbroker/httpapi"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/logging"
	"github.com/meshgate/iotbroker/management"
	"github.com/meshgate/iotbroker/scheduler"
	"github.com/meshgate/iotbroker/timeseries"
)

// App holds every wired component for the process's lifetime.
type App struct {
	cfg *config.Config
	log *slog.Logger

	store      *identity.Store
	cache      *cache.Cache
	engine     *broker.Engine
	mqttServer *broker.Server
	scheduler  *scheduler.Scheduler
	bridge     *bridge.Manager
	timeseries *timeseries.Sink

	httpSrv *http.Server
	mgmtSrv *http.Server

	identity identity.LocalIdentity

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New loads configuration, opens every durable/process-local component,
// and wires them into each other. It does not start any listener or
// background loop; call Run for that.
func New(ctx context.Context, overrideFile string) (*App, error) {
	cfg, err := config.Load(overrideFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.New(cfg.LogLevel(), cfg.Log.Format)

	store, err := identity.Open(ctx, identity.Config{
		Path:          cfg.Storage.SQLitePath,
		BusyTimeoutMS: cfg.Storage.SQLiteBusyTimeoutMS,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	li, err := store.Bootstrap(ctx, cfg.Bridge.BrokerID, cfg.Bridge.BridgeToken)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("bootstrapping local identity: %w", err)
	}

	for _, peer := range cfg.Bridge.Peers {
		if err := store.UpsertPeerBroker(ctx, identity.PeerBroker{
			BrokerID: peer.BrokerID,
			URL:      peer.URL,
			Token:    peer.Token,
			Enabled:  true,
		}); err != nil {
			store.Close()
			return nil, fmt.Errorf("seeding peer %s: %w", peer.BrokerID, err)
		}
	}

	deviceCache := cache.New(cache.Options{
		PublishRateLimit: cfg.Broker.PublishRateLimit,
		PendingExpiry:    cfg.Broker.MessageExpireTime,
	})

	engine := broker.New(broker.Config{
		Store:            store,
		Cache:            deviceCache,
		Logger:           log,
		Limits:           broker.Limits{MaxMessageBytes: cfg.Broker.MessageMaxLength},
		LocalBridgeToken: li.BridgeToken,
		FederationOn:     cfg.Bridge.Enabled,
	})

	var tsSink *timeseries.Sink
	if cfg.Timeseries.Enabled {
		tsSink, err = timeseries.Open(timeseries.Config{
			Enabled:       true,
			URL:           cfg.Timeseries.URL,
			Token:         cfg.Timeseries.Token,
			Org:           cfg.Timeseries.Org,
			Bucket:        cfg.Timeseries.Bucket,
			RetentionDays: cfg.Timeseries.RetentionDays,
			Logger:        log,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("opening timeseries sink: %w", err)
		}
		engine.SetTimeseriesSink(tsSink)
	}

	var bridgeMgr *bridge.Manager
	if cfg.Bridge.Enabled {
		bridgeMgr = bridge.New(bridge.Config{
			LocalBrokerID:     li.BrokerID,
			LocalBridgeToken:  li.BridgeToken,
			ReconnectInterval: cfg.Bridge.ReconnectInterval,
			Logger:            log,
		}, store, deviceCache, engine)
		engine.SetBridge(bridgeMgr)
	}

	sched := scheduler.New(engine, log)

	httpAdapter := httpapi.New(httpapi.Config{
		Store:            store,
		Cache:            deviceCache,
		Engine:           engine,
		Scheduler:        sched,
		Timeseries:       tsSink,
		MessageMaxLength: cfg.Broker.MessageMaxLength,
		Logger:           log,
	})

	mgmtAdapter := management.New(management.Config{
		Store:     store,
		Cache:     deviceCache,
		Bridge:    bridgeMgr,
		UserToken: cfg.Management.UserToken,
		Logger:    log,
	})

	a := &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		cache:      deviceCache,
		engine:     engine,
		scheduler:  sched,
		bridge:     bridgeMgr,
		timeseries: tsSink,
		identity:   li,
		stop:       make(chan struct{}),
	}
	a.mqttServer = broker.NewServer(cfg.MQTTAddr(), engine)
	a.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpAdapter,
	}
	a.mgmtSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Management.Port),
		Handler: mgmtAdapter,
	}
	return a, nil
}

// Run starts every listener and background loop, then blocks until ctx is
// canceled, at which point it runs Shutdown and returns.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting iotbroker",
		"broker_id", a.identity.BrokerID,
		"mqtt_addr", a.cfg.MQTTAddr(),
		"http_port", a.cfg.Server.HTTPPort,
		"management_port", a.cfg.Management.Port,
		"federation", a.cfg.Bridge.Enabled,
		"timeseries", a.cfg.Timeseries.Enabled,
	)

	errCh := make(chan error, 3)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.mqttServer.Serve(ctx); err != nil && !errors.Is(err, net.ErrClosed) {
			errCh <- fmt.Errorf("mqtt server: %w", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.mgmtSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("management server: %w", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.cache.RunSweep(a.stop, a.cfg.Broker.CacheCleanupInterval)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(a.stop, scheduler.DefaultTickInterval)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runHTTPOfflineSweep()
	}()

	if a.bridge != nil {
		if err := a.bridge.ReloadRemotes(ctx); err != nil {
			a.log.Error("initial bridge reload failed", "error", err)
		}
	}

	if a.timeseries != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.timeseries.RunRetention(a.stop, 24*time.Hour)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.log.Error("component failed, shutting down", "error", err)
	}

	return a.Shutdown()
}

// runHTTPOfflineSweep periodically demotes HTTP-mode devices whose last
// activity is older than the 10-minute cutoff spec.md §3 fixes for
// DeviceStatus, per identity.Store.MarkInactiveHTTPDevicesOffline.
func (a *App) runHTTPOfflineSweep() {
	const (
		cutoffWindow = 10 * time.Minute
		interval     = 1 * time.Minute
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := a.store.MarkInactiveHTTPDevicesOffline(ctx, time.Now().Add(-cutoffWindow))
			cancel()
			if err != nil {
				a.log.Error("http offline sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.log.Debug("marked http devices offline", "count", n)
			}
		}
	}
}

// Shutdown stops every component in the order spec.md §5 prescribes:
// Scheduler and Bridge first (canceling reconnect timers, closing peer
// clients with force), then the MQTT engine (draining sessions), then the
// HTTP servers, then the Identity Store. Safe to call more than once.
func (a *App) Shutdown() error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		close(a.stop)

		if a.bridge != nil {
			a.bridge.StopAll()
		}

		a.engine.Drain()
		if err := a.mqttServer.Close(); err != nil {
			a.log.Warn("closing mqtt server", "error", err)
		}

		httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpSrv.Shutdown(httpCtx); err != nil {
			a.log.Warn("shutting down http server", "error", err)
		}
		cancel()

		mgmtCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mgmtSrv.Shutdown(mgmtCtx); err != nil {
			a.log.Warn("shutting down management server", "error", err)
		}
		cancel()

		a.wg.Wait()

		if a.timeseries != nil {
			if err := a.timeseries.Close(); err != nil {
				a.log.Warn("closing timeseries sink", "error", err)
			}
		}

		if err := a.store.Close(); err != nil {
			shutdownErr = fmt.Errorf("closing identity store: %w", err)
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
