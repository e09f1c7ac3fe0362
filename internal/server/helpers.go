package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/weiqr/weiqr/internal/apperr"
)

// RequireMethod validates that the request uses method, writing a 405
// response and returning false otherwise.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return false
	}
	return true
}

// DecodeJSON decodes the request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// errorResponse is the JSON shape of every non-2xx RPC reply.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) error {
	return WriteJSON(w, statusCode, errorResponse{Code: code, Message: message})
}

// WriteAppError maps a domain error to its HTTP status and writes it.
// Falls back to 500 for an error that carries no apperr.Code.
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		WriteError(w, statusForCode(appErr.Code), string(appErr.Code), appErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, "InternalError", err.Error())
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeQrNotFound, apperr.CodeCookiesNotFound, apperr.CodeTaskNotFound, apperr.CodeNoData:
		return http.StatusNotFound
	case apperr.CodeQrExpired, apperr.CodeValidationFailed, apperr.CodeUidMismatch, apperr.CodeMissingCookie,
		apperr.CodeInvalidStatus, apperr.CodeInvalidKeyword, apperr.CodeInvalidTime, apperr.CodeCredentialMissing:
		return http.StatusBadRequest
	case apperr.CodeCaptchaDetected:
		return http.StatusForbidden
	case apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeNetworkFailed, apperr.CodeConnectionLost, apperr.CodeInvalidResponse, apperr.CodeMalformedFrame,
		apperr.CodeStorageConnectionFailed, apperr.CodeSerializationError, apperr.CodeStorageError, apperr.CodeDiskFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
