package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/halyard-ssh/halyard/internal/keystore"
	"github.com/halyard-ssh/halyard/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeDomainError maps typed errors from the core packages onto HTTP
// statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		invalidCfg   *session.InvalidConfigError
		sessNotFound *session.NotFoundError
		unavailable  *session.UnavailableError
		authErr      *session.AuthError
		transport    *session.TransportError
		keyNotFound  *keystore.NotFoundError
		format       *keystore.FormatError
		unsupported  *keystore.UnsupportedTypeError
		secret       *keystore.SecretUnavailableError
	)
	switch {
	case errors.As(err, &sessNotFound), errors.As(err, &keyNotFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusConflict
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &invalidCfg), errors.As(err, &format), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.As(err, &secret):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
