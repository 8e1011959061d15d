// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Rejection reasons passed to Options.OnReject.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// Options configure the middleware.
type Options struct {
	Token string
	// Realm is advertised in WWW-Authenticate on 401 responses.
	Realm string
	// OnReject, if set, is called for every rejected request.
	OnReject func(r *http.Request, reason string)
}

// BearerToken returns middleware that requires "Authorization: Bearer <token>".
func BearerToken(token string) func(http.Handler) http.Handler {
	return New(Options{Token: token})
}

// New returns bearer token middleware. Comparison uses constant-time
// equality to prevent timing side-channel attacks.
func New(o Options) func(http.Handler) http.Handler {
	expected := []byte(o.Token)
	challenge := "Bearer"
	if o.Realm != "" {
		challenge += ` realm="` + o.Realm + `"`
	}

	reject := func(w http.ResponseWriter, r *http.Request, reason, body string) {
		if o.OnReject != nil {
			o.OnReject(r, reason)
		}
		w.Header().Set("WWW-Authenticate", challenge)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(body + "\n"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				reject(w, r, ReasonMissing, `{"error":"missing or malformed authorization header"}`)
				return
			}

			got := []byte(auth[len("Bearer "):])

			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				reject(w, r, ReasonInvalid, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
