package identity

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Middleware parses the Cart-Session header and stores the identity in the
// request context. Malformed headers are rejected with 400 before any handler
// runs. Health checks are exempt.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(HeaderName)
			id, err := ParseHeader(header)
			if err != nil {
				logger.Warn("invalid session header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeSessionError(w, "Invalid "+HeaderName+" header: "+err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func isExemptPath(path string) bool {
	switch path {
	case "/health", "/healthz":
		return true
	default:
		return false
	}
}

func writeSessionError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = "INVALID_SESSION"
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}
