package httpapi

import (
	"encoding/json"
	"net/http"
)

// Response codes per spec.md §6's HTTP device API dictionary.
const (
	CodeSuccess            = 1000
	CodeBadRequest         = 1001
	CodeServerError        = 1002
	CodeDeviceNotFound     = 1003
	CodeMessageTooLarge    = 1004
	CodeRateLimited        = 1005
	CodeForbiddenGroup     = 1006
	CodeDeviceNotOnline    = 1007
	CodeUnauthorizedOrGone = 1008
)

// envelope is the response shape every handler on this surface writes:
// {"message": code, "detail": value}.
type envelope struct {
	Message int `json:"message"`
	Detail  any `json:"detail"`
}

func writeEnvelope(w http.ResponseWriter, status, code int, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Best-effort: the client may already have gone away.
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

func writeDeviceNotFound(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusNotFound, CodeDeviceNotFound, "device not found")
}

func writeMessageTooLarge(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusRequestEntityTooLarge, CodeMessageTooLarge, "message exceeds maximum length")
}

func writeRateLimited(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusTooManyRequests, CodeRateLimited, "publish rate limit exceeded")
}

func writeForbiddenGroup(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusForbidden, CodeForbiddenGroup, "not a member of this group")
}

func writeDeviceNotOnline(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusConflict, CodeDeviceNotOnline, "device not online in http mode")
}

func writeUnauthorized(w http.ResponseWriter, detail any) {
	writeEnvelope(w, http.StatusUnauthorized, CodeUnauthorizedOrGone, detail)
}

func writeNotFoundTask(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusNotFound, CodeUnauthorizedOrGone, "task not found")
}
