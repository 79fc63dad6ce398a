package management

import (
	"encoding/json"
	"net/http"
)

// Response codes mirror the device-facing surface's dictionary (spec.md
// §6), since both HTTP surfaces share one broker process and the same
// operator expects the same numbers in both.
const (
	CodeSuccess      = 1000
	CodeBadRequest   = 1001
	CodeServerError  = 1002
	CodeNotFound     = 1003
	CodeUnauthorized = 1008
)

type envelope struct {
	Message int `json:"message"`
	Detail  any `json:"detail"`
}

func writeEnvelope(w http.ResponseWriter, status, code int, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Message: code, Detail: detail})
}

func writeOK(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusOK, CodeSuccess, detail)
}

func writeBadRequest(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusBadRequest, CodeBadRequest, detail)
}

func writeServerError(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusInternalServerError, CodeServerError, detail)
}

func writeNotFound(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusNotFound, CodeNotFound, detail)
}

func writeUnauthorized(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusUnauthorized, CodeUnauthorized, detail)
}
