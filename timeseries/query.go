package timeseries

import (
	"context"
	"fmt"
	"time"
)

// Point is one row of the queryTimeseriesData result set.
type Point struct {
	DeviceUUID string    `json:"deviceUuid"`
	DataKey    string    `json:"dataKey"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// QueryResult is the external queryTimeseriesData contract: a page of
// points, descending by timestamp, plus enough metadata to paginate.
type QueryResult struct {
	Data       []Point `json:"data"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

// QueryOptions narrows a Query call. DataKey, Start, and End are optional
// filters; zero values mean "unfiltered".
type QueryOptions struct {
	DeviceUUID string
	DataKey    string
	Start      time.Time
	End        time.Time
	Page       int
	PageSize   int
}

const defaultPageSize = 50

// Query implements queryTimeseriesData: a page of points for one device
// (optionally narrowed to one dataKey and/or a time range), newest first,
// with total/page/pageSize/totalPages for the caller to paginate with.
//
// It issues two Flux queries against the bucket: one aggregated count for
// Total, one range+sort+limit+offset for the page itself. This mirrors the
// reference's per-day SQL sharding query (COUNT then SELECT ... LIMIT ...
// OFFSET), just expressed in Flux instead of SQL.
func (s *Sink) Query(ctx context.Context, opts QueryOptions) (QueryResult, error) {
	if !s.IsConnected() {
		return QueryResult{}, ErrNotConnected
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	filter := s.fluxFilter(opts)

	total, err := s.queryCount(ctx, filter)
	if err != nil {
		return QueryResult{}, err
	}

	points, err := s.queryPage(ctx, filter, page, pageSize)
	if err != nil {
		return QueryResult{}, err
	}

	totalPages := computeTotalPages(total, pageSize)
	return QueryResult{
		Data:       points,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// computeTotalPages returns the number of pages needed for total items:
// total/pageSize, rounded up.
func computeTotalPages(total, pageSize int) int {
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}

// fluxFilter builds the shared range+filter clause for both queryCount and
// queryPage, so they always agree on which rows are "in scope".
func (s *Sink) fluxFilter(opts QueryOptions) string {
	start := "0"
	if !opts.Start.IsZero() {
		start = opts.Start.UTC().Format(time.RFC3339Nano)
	}
	stop := "now()"
	if !opts.End.IsZero() {
		stop = fmt.Sprintf("%q", opts.End.UTC().Format(time.RFC3339Nano))
	}

	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == %q and r.%s == %q)`,
		s.cfg.Bucket, start, stop, measurement, fieldValue, tagDevice, opts.DeviceUUID)

	if opts.DataKey != "" {
		flux += fmt.Sprintf("\n  |> filter(fn: (r) => r.%s == %q)", tagKey, opts.DataKey)
	}
	return flux
}

func (s *Sink) queryCount(ctx context.Context, filter string) (int, error) {
	flux := filter + "\n  |> count()"
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("timeseries: count query: %w", err)
	}
	defer result.Close()

	total := 0
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			total += int(v)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("timeseries: count query: %w", result.Err())
	}
	return total, nil
}

func (s *Sink) queryPage(ctx context.Context, filter string, page, pageSize int) ([]Point, error) {
	offset := (page - 1) * pageSize
	flux := fmt.Sprintf(`%s
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d, offset: %d)`, filter, pageSize, offset)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("timeseries: page query: %w", err)
	}
	defer result.Close()

	points := make([]Point, 0, pageSize)
	for result.Next() {
		rec := result.Record()
		val, _ := rec.Value().(float64)
		deviceUUID, _ := rec.ValueByKey(tagDevice).(string)
		dataKey, _ := rec.ValueByKey(tagKey).(string)
		points = append(points, Point{
			DeviceUUID: deviceUUID,
			DataKey:    dataKey,
			Value:      val,
			Timestamp:  rec.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("timeseries: page query: %w", result.Err())
	}
	return points, nil
}
