package timeseries

import (
	"context"
	"time"
)

const defaultRetentionSweepInterval = time.Hour

// RunRetention blocks, deleting points older than cfg.RetentionDays every
// interval, until stop is closed. Mirrors the reference's "drop yesterday's
// ts_YYYYMMDD table" sweep, expressed as an InfluxDB delete-by-predicate
// instead of a DROP TABLE.
func (s *Sink) RunRetention(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRetentionSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.sweepRetention()
		}
	}
}

func (s *Sink) sweepRetention() {
	if s.cfg.RetentionDays <= 0 || !s.IsConnected() {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	predicate := `_measurement="` + measurement + `"`
	if err := s.deleteAPI.DeleteWithName(ctx, s.cfg.Org, s.cfg.Bucket,
		time.Unix(0, 0), cutoff, predicate); err != nil {
		s.log.Warn("timeseries retention delete failed", "cutoff", cutoff, "err", err)
		return
	}
	s.log.Info("timeseries retention swept", "cutoff", cutoff)
}
