package timeseries

import "errors"

// ErrDisabled is returned by Open when cfg.Enabled is false.
var ErrDisabled = errors.New("timeseries: influxdb sink disabled")

// ErrNotConnected is returned by Query/HealthCheck when the sink never
// established a connection (or has been closed).
var ErrNotConnected = errors.New("timeseries: influxdb sink not connected")
