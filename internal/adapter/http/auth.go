package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/montage/internal/adapter/http/middleware"
	"github.com/bnema/montage/internal/adapter/http/ratelimit"
	"github.com/bnema/montage/internal/adapter/http/templates"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/service"
)

const (
	CookieName     = "auth_token"
	CookieMaxAge   = int(service.DefaultSessionTTL / time.Second)
	CookiePath     = "/"
	CookieSameSite = http.SameSiteStrictMode
)

type AuthService interface {
	NeedsSetup() (bool, error)
	Setup(username, password string) error
	Login(username, password string) (string, error)
	Verify(token string) (*domain.User, error)
	ChangePassword(username, current, next string) error
}

type userKey struct{}

// UserFromContext returns the operator AuthMiddleware attached.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}

// AuthMiddleware admits requests carrying a valid session cookie. API and
// event-stream callers get 401; page navigations are sent to the login page.
func AuthMiddleware(authSvc AuthService, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err == nil {
			if user, verr := authSvc.Verify(cookie.Value); verr == nil {
				next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
				return
			}
		}

		if isMachineRequest(r) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func isMachineRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.HasPrefix(r.URL.Path, "/events/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func LoginHandler(authSvc AuthService, guard *ratelimit.Guard, version string, behindProxy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := templates.AuthForm{CSRF: middleware.TokenFromContext(r.Context()), Version: version}

		if r.Method == http.MethodGet {
			if needs, err := authSvc.NeedsSetup(); err == nil && needs {
				http.Redirect(w, r, "/setup", http.StatusSeeOther)
				return
			}
			renderPage(w, r, http.StatusOK, templates.Login(form))
			return
		}

		client := clientID(r, behindProxy)
		if ok, wait := guard.Allow(client); !ok {
			logger.Warn.Printf("login blocked for %s (%s remaining)", logger.SanitizeForLog(client), wait.Round(time.Second))
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			form.Error = "Too many failed attempts. Try again later."
			renderPage(w, r, http.StatusTooManyRequests, templates.Login(form))
			return
		}

		username := strings.TrimSpace(r.FormValue("username"))
		token, err := authSvc.Login(username, r.FormValue("password"))
		if err != nil {
			delay := guard.Failure(client)
			logger.Warn.Printf("failed login for %q from %s", logger.SanitizeForLog(username), logger.SanitizeForLog(client))
			sleepCtx(r.Context(), delay)
			form.Error = "Invalid username or password."
			form.Username = username
			renderPage(w, r, http.StatusUnauthorized, templates.Login(form))
			return
		}

		guard.Success(client)
		setSessionCookie(w, r, token, behindProxy)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// SetupHandler creates the operator account on first start and signs it in.
func SetupHandler(authSvc AuthService, version string, behindProxy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		needs, err := authSvc.NeedsSetup()
		if err != nil {
			logger.Error.Printf("setup check: %v", err)
			renderPage(w, r, http.StatusInternalServerError, templates.ErrorPage("500", "Storage unavailable", version))
			return
		}
		if !needs {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		form := templates.AuthForm{CSRF: middleware.TokenFromContext(r.Context()), Version: version}
		if r.Method == http.MethodGet {
			renderPage(w, r, http.StatusOK, templates.Setup(form))
			return
		}

		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")
		if err := authSvc.Setup(username, password); err != nil {
			if errors.Is(err, service.ErrOperatorExists) {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			form.Error = err.Error()
			form.Username = username
			renderPage(w, r, http.StatusBadRequest, templates.Setup(form))
			return
		}
		logger.Info.Printf("operator account %q created", logger.SanitizeForLog(username))

		token, err := authSvc.Login(username, password)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		setSessionCookie(w, r, token, behindProxy)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func LogoutHandler(behindProxy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			MaxAge:   -1,
			Path:     CookiePath,
			Secure:   secureRequest(r, behindProxy),
			HttpOnly: true,
			SameSite: CookieSameSite,
		})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

type passwordChange struct {
	Current string `json:"current"`
	Next    string `json:"next"`
}

func ChangePasswordHandler(authSvc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordChange
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user := UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		switch err := authSvc.ChangePassword(user.Username, req.Current, req.Next); {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, service.ErrInvalidCreds):
			writeError(w, http.StatusForbidden, "current password is wrong")
		case errors.Is(err, service.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error.Printf("change password: %v", err)
			writeError(w, http.StatusInternalServerError, "could not change password")
		}
	}
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, behindProxy bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		MaxAge:   CookieMaxAge,
		Path:     CookiePath,
		Secure:   secureRequest(r, behindProxy),
		HttpOnly: true,
		SameSite: CookieSameSite,
	})
}

func secureRequest(r *http.Request, behindProxy bool) bool {
	return r.TLS != nil || (behindProxy && r.Header.Get("X-Forwarded-Proto") == "https")
}

// clientID identifies the caller for login throttling. Forwarded headers
// are only trusted behind a proxy.
func clientID(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
