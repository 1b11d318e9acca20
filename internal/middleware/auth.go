package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthCookie is set by the login handler once the password matched.
const AuthCookie = "authenticated"

// sessionKey signs auth cookies. It is regenerated on every start, so a
// restart logs everyone out.
var sessionKey = newSessionKey()

func newSessionKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("middleware: cannot read random session key: " + err.Error())
	}
	return key
}

// SessionToken is the cookie value issued for password. Only this process
// can produce it.
func SessionToken(password string) string {
	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

func validSession(value, password string) bool {
	return hmac.Equal([]byte(value), []byte(SessionToken(password)))
}

// AuthMiddleware checks for the auth cookie. With an empty password the
// server is open and requests pass straight through.
func AuthMiddleware(password string, next http.Handler) http.Handler {
	if password == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// login page, health checks and static assets stay reachable
		if r.URL.Path == "/login" ||
			r.URL.Path == "/auth/login" ||
			r.URL.Path == "/healthz" ||
			strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(AuthCookie)
		if err != nil || !validSession(cookie.Value, password) {
			// API clients get 401, browsers are sent to the login page
			if strings.HasPrefix(r.URL.Path, "/api/") ||
				r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
				r.Header.Get("Content-Type") == "application/json" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
