package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/vdavid/mailchat/internal/db"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/poller"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON encodes to a buffer first so a failed encode never leaves a partial response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
	}
}

// writeError maps err onto a status code and a JSON error body. Unexpected
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, handler string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", handler, err)
		message = "Internal server error"
	}

	writeJSON(w, status, errorResponse{Error: message, Code: apperrors.GetErrorCode(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrAccountNotFound),
		errors.Is(err, db.ErrGroupNotFound),
		errors.Is(err, db.ErrContactNotFound),
		errors.Is(err, db.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrAccountExists),
		errors.Is(err, db.ErrGroupExists),
		errors.Is(err, poller.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConnectivity),
		errors.Is(err, apperrors.ErrProtocol),
		errors.Is(err, apperrors.ErrNegotiationExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// badRequest reports a malformed request as a configuration error.
func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: fmt.Sprintf(format, args...),
		Code:  apperrors.CodeConfiguration,
	})
}

// decodeJSON reads the request body into v and answers 400 itself when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}

// queryInt64 parses a numeric query parameter. A missing parameter yields (0, true)
// unless required is set; a malformed one answers 400.
func queryInt64(w http.ResponseWriter, r *http.Request, name string, required bool) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if required {
			badRequest(w, "%s is required", name)
			return 0, false
		}
		return 0, true
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		badRequest(w, "%s must be a non-negative integer", name)
		return 0, false
	}
	return n, true
}
