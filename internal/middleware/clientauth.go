// AngelaMos | 2026
// clientauth.go

package middleware

import (
	"net/http"

	"github.com/soundvault/auth-backend/internal/core"
)

// ClientCredentials guards service-to-service endpoints. The caller must
// present the registered client id and secret via HTTP Basic auth; token
// minting is never open to anonymous callers.
func ClientCredentials(
	clientID, clientSecret string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, secret, ok := r.BasicAuth()
			if !ok ||
				!core.SecureCompare(id, clientID) ||
				!core.SecureCompare(secret, clientSecret) {
				w.Header().Set("WWW-Authenticate", `Basic realm="oauth-client"`)
				core.JSONError(
					w,
					core.UnauthorizedError("client authentication required"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
