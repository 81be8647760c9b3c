package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/AaronLay10/AlchemyMachine/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	// RoleViewer may watch status and events but not send commands.
	RoleViewer Role = "viewer"
)

type credential struct {
	user string
	pass string
	role Role
}

// authConfig holds the configured credentials, checked in order.
type authConfig struct {
	creds   []credential
	enabled bool
}

var auth *authConfig

// InitAuth loads credentials from ALCHEMY_{ADMIN,OPERATOR,VIEWER}_{USER,PASS}
// or their *_FILE variants. Auth is enabled only when the admin pair is
// set; otherwise every request is treated as admin.
func InitAuth() error {
	cfg := &authConfig{}
	for _, role := range []Role{RoleAdmin, RoleOperator, RoleViewer} {
		prefix := "ALCHEMY_" + strings.ToUpper(string(role))
		user, err := config.ResolveSecret(prefix + "_USER")
		if err != nil {
			return fmt.Errorf("resolve %s_USER: %w", prefix, err)
		}
		pass, err := config.ResolveSecret(prefix + "_PASS")
		if err != nil {
			return fmt.Errorf("resolve %s_PASS: %w", prefix, err)
		}
		if user == "" || pass == "" {
			continue
		}
		cfg.creds = append(cfg.creds, credential{user: user, pass: pass, role: role})
		if role == RoleAdmin {
			cfg.enabled = true
		}
	}
	auth = cfg
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate returns the caller's role, or "" for bad credentials.
func authenticate(r *http.Request) Role {
	if !IsAuthEnabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	for _, c := range auth.creds {
		// Compare both halves so timing does not reveal which one matched.
		u := secureCompare(user, c.user)
		p := secureCompare(pass, c.pass)
		if u && p {
			return c.role
		}
	}
	return ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Alchemy Machine"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole admits every authenticated caller, viewers included.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator, RoleViewer)
}

// RequireOperator admits callers allowed to send puzzle commands.
func RequireOperator(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
