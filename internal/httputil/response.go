package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rustfin/rustfin/internal/coreerr"
)

type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status: "ok",
		Data:   data,
	})
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status: "error",
		Error: &ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// WriteCoreError maps a coreerr.Kind onto an HTTP status so every handler
// in internal/api shares one translation instead of re-deriving status
// codes per endpoint.
func WriteCoreError(w http.ResponseWriter, err error) {
	var ce *coreerr.Error
	if !errors.As(err, &ce) {
		WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch ce.Kind {
	case coreerr.KindValidation:
		status = http.StatusBadRequest
	case coreerr.KindNotFound:
		status = http.StatusNotFound
	case coreerr.KindForbidden:
		status = http.StatusForbidden
	case coreerr.KindConflict:
		status = http.StatusConflict
	case coreerr.KindResourceBusy:
		status = http.StatusTooManyRequests
	case coreerr.KindSpawnFailed, coreerr.KindProbeError, coreerr.KindProviderError, coreerr.KindStorageError, coreerr.KindInternal:
		status = http.StatusInternalServerError
	}
	WriteError(w, status, string(ce.Kind), ce.Message)
}

func ReadJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
