// Package timeseries implements the Broker Engine's timeseries tap and the
// paginated query contract consumed by the HTTP and management adapters. It
// is grounded on the retrieval pack's InfluxDB client wrapper, adapted from
// a per-device-metric write API to the broker's generic
// (deviceUuid, dataKey, value, timestamp) point shape.
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurement = "device_metrics"
	tagDevice   = "device_uuid"
	tagKey      = "data_key"
	fieldValue  = "value"

	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
)

// Config configures Open. URL/Token/Org/Bucket follow the usual InfluxDB v2
// connection parameters; RetentionDays feeds RunRetention.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	RetentionDays int
	Logger        *slog.Logger
}

// Sink wraps an InfluxDB v2 client, providing the broker.TimeseriesSink
// write path plus a paginated read-back query and a retention sweep.
type Sink struct {
	client    influxdb2.Client
	writeAPI  api.WriteAPI
	queryAPI  api.QueryAPI
	deleteAPI api.DeleteAPI
	cfg       Config
	log       *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// Open connects to InfluxDB per cfg. Returns a nil *Sink and ErrDisabled
// without dialing anything if cfg.Enabled is false.
func Open(cfg Config) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(uint(defaultFlushInterval.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("timeseries: ping influxdb: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("timeseries: influxdb server not healthy")
	}

	s := &Sink{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		deleteAPI: client.DeleteAPI(),
		cfg:       cfg,
		log:       logger,
		connected: true,
	}
	go s.logWriteErrors(s.writeAPI.Errors())
	logger.Info("timeseries sink opened", "url", cfg.URL, "bucket", cfg.Bucket)
	return s, nil
}

func (s *Sink) logWriteErrors(errs <-chan error) {
	for err := range errs {
		s.log.Warn("timeseries write error", "err", err)
	}
}

// IsConnected reports the last known connection state.
func (s *Sink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// WritePoint implements broker.TimeseriesSink. It is non-blocking: the
// point is batched and flushed asynchronously by the underlying write API.
func (s *Sink) WritePoint(deviceUUID, dataKey string, value float64, timestampMS int64) {
	if !s.IsConnected() {
		return
	}
	p := write.NewPoint(measurement,
		map[string]string{tagDevice: deviceUUID, tagKey: dataKey},
		map[string]interface{}{fieldValue: value},
		time.UnixMilli(timestampMS),
	)
	s.writeAPI.WritePoint(p)
}

// Flush blocks until all buffered points are sent. Used before shutdown.
func (s *Sink) Flush() {
	if s.writeAPI == nil {
		return
	}
	s.writeAPI.Flush()
}

// Close flushes pending writes and releases the underlying client.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	if s.writeAPI != nil {
		s.writeAPI.Flush()
	}
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// HealthCheck actively pings InfluxDB, unlike IsConnected's cached state.
func (s *Sink) HealthCheck(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("timeseries: health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("timeseries: influxdb server not healthy")
	}
	return nil
}
