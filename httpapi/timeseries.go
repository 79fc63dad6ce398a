package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/meshgate/iotbroker/timeseries"
)

// handleQueryTimeseries implements GET /timeseries: the queryTimeseriesData
// passthrough named in spec.md §6's external interfaces. Requires
// deviceUuid; dataKey, start, end (RFC3339), page, and pageSize are
// optional filters/pagination.
func (s *Server) handleQueryTimeseries(w http.ResponseWriter, r *http.Request) {
	if s.timeseries == nil {
		writeServerError(w, "timeseries sink not configured")
		return
	}

	q := r.URL.Query()
	deviceUUID := q.Get("deviceUuid")
	if deviceUUID == "" {
		writeBadRequest(w, "deviceUuid is required")
		return
	}

	opts := timeseries.QueryOptions{DeviceUUID: deviceUUID, DataKey: q.Get("dataKey")}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "start must be RFC3339")
			return
		}
		opts.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "end must be RFC3339")
			return
		}
		opts.End = t
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "page must be a positive integer")
			return
		}
		opts.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "pageSize must be a positive integer")
			return
		}
		opts.PageSize = n
	}

	result, err := s.timeseries.Query(r.Context(), opts)
	if err != nil {
		s.log.Error("querying timeseries", "device_uuid", deviceUUID, "err", err)
		writeServerError(w, "querying timeseries")
		return
	}
	writeOK(w, result)
}
