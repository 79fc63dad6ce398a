package management

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeServerError(w, "reading request body")
		return false
	}
	if len(body) == 0 {
		writeBadRequest(w, "empty request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeBadRequest(w, "malformed json body")
		return false
	}
	return true
}
