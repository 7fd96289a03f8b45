package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"time"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
	CSRFFormField  = "csrf_token"

	csrfMaxAge = 24 * time.Hour
	nonceSize  = 16
)

// CSRF implements the double-submit cookie pattern. Tokens are
// base64(nonce | issued-at | hmac) so a token older than a day is refused
// even when the cookie lingers.
type CSRF struct {
	secret []byte
	now    func() time.Time
}

func NewCSRF(secret string) *CSRF {
	return &CSRF{secret: []byte(secret), now: time.Now}
}

type tokenKey struct{}

// TokenFromContext returns the token in effect for the request, for pages
// that embed it in a form.
func TokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey{}).(string)
	return s
}

// Protect issues a token cookie when none is present and requires a matching
// header or form field on unsafe methods.
func (c *CSRF) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CSRFCookieName)
		var token string
		if err == nil && c.Valid(cookie.Value) {
			token = cookie.Value
		} else {
			token = c.Token()
			c.setCookie(w, r, token)
		}
		r = r.WithContext(context.WithValue(r.Context(), tokenKey{}, token))

		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil || !c.matches(r, cookie.Value) {
			http.Error(w, "Forbidden - invalid CSRF token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Token returns a fresh signed token.
func (c *CSRF) Token() string {
	buf := make([]byte, nonceSize+8, nonceSize+8+sha256.Size)
	_, _ = rand.Read(buf[:nonceSize])
	binary.BigEndian.PutUint64(buf[nonceSize:], uint64(c.now().Unix()))
	buf = append(buf, c.mac(buf)...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Valid checks the signature and age of token.
func (c *CSRF) Valid(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != nonceSize+8+sha256.Size {
		return false
	}
	payload, sig := raw[:nonceSize+8], raw[nonceSize+8:]
	if !hmac.Equal(sig, c.mac(payload)) {
		return false
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(payload[nonceSize:])), 0)
	return c.now().Sub(issued) <= csrfMaxAge
}

func (c *CSRF) mac(payload []byte) []byte {
	m := hmac.New(sha256.New, c.secret)
	m.Write(payload)
	return m.Sum(nil)
}

func (c *CSRF) matches(r *http.Request, cookieToken string) bool {
	sent := r.Header.Get(CSRFHeaderName)
	if sent == "" {
		sent = r.FormValue(CSRFFormField)
	}
	if sent == "" || !hmac.Equal([]byte(sent), []byte(cookieToken)) {
		return false
	}
	return c.Valid(sent)
}

func (c *CSRF) setCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfMaxAge / time.Second),
		Secure:   isTLS(r),
		HttpOnly: false, // read by the dashboard script
		SameSite: http.SameSiteStrictMode,
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
