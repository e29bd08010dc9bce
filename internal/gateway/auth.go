package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/dudufisio/fisioflow/internal/config"
)

// Environment fallbacks for gateway credentials.
const (
	EnvGatewayToken    = "FISIOFLOW_GATEWAY_TOKEN"
	EnvGatewayPassword = "FISIOFLOW_GATEWAY_PASSWORD"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves authentication credentials from config and environment.
// Precedence: config value → env variable → empty.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode}

	auth.Token = cfg.Token
	if auth.Token == "" {
		auth.Token = os.Getenv(EnvGatewayToken)
	}

	auth.Password = cfg.Password
	if auth.Password == "" {
		auth.Password = os.Getenv(EnvGatewayPassword)
	}

	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = "password"
		} else {
			auth.Mode = "token"
		}
	}

	return auth
}

// Authorize checks the provided ConnectAuth against the resolved server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case "token":
		if serverAuth.Token == "" {
			return AuthResult{OK: false, Reason: "server token not configured"}
		}
		if clientAuth.Token == "" {
			return AuthResult{OK: false, Reason: "token required"}
		}
		if !safeEqual(clientAuth.Token, serverAuth.Token) {
			return AuthResult{OK: false, Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: "token"}

	case "password":
		if serverAuth.Password == "" {
			return AuthResult{OK: false, Reason: "server password not configured"}
		}
		if clientAuth.Password == "" {
			return AuthResult{OK: false, Reason: "password required"}
		}
		if !safeEqual(clientAuth.Password, serverAuth.Password) {
			return AuthResult{OK: false, Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: "password"}

	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// AuthorizeRequest authenticates a REST call. The bearer credential is
// compared against the token or the password, depending on the mode.
func AuthorizeRequest(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	secret, ok := bearerToken(r)
	if !ok {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}
	clientAuth := &ConnectAuth{Token: secret}
	if serverAuth.Mode == "password" {
		clientAuth = &ConnectAuth{Password: secret}
	}
	return Authorize(serverAuth, clientAuth)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// safeEqual performs a constant-time string comparison.
// Length is compared with ConstantTimeEq so a mismatch does not return early.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
