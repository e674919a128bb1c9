package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"licensestake/observability"
	"licensestake/observability/logging"
)

type contextKey string

const (
	contextKeyPrincipal contextKey = "rpc.principal"
	contextKeyRequestID contextKey = "rpc.requestID"
)

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

// Authenticator verifies HS256 bearer tokens whose subject is the caller's
// hex address.
type Authenticator struct {
	secret []byte
	issuer string
	skew   time.Duration
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if len(secret) == 0 {
		return nil, errors.New("rpc: auth secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: secret, issuer: strings.TrimSpace(cfg.Issuer), skew: cfg.ClockSkew, logger: logger}, nil
}

// Middleware rejects requests without a valid token and stores the principal
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := extractBearer(header)
		if tokenString == "" {
			observability.API().RecordRejection("auth", "missing_token")
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		principal, err := a.Verify(tokenString)
		if err != nil {
			a.logger.Warn("token validation failed",
				"request_id", RequestIDFrom(r.Context()),
				"error", err,
				logging.MaskField("authorization", header))
			observability.API().RecordRejection("auth", "invalid_token")
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses tokenString and returns its subject address.
func (a *Authenticator) Verify(tokenString string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(subject) {
		return common.Address{}, errors.New("subject is not an address")
	}
	principal := common.HexToAddress(subject)
	if principal == (common.Address{}) {
		return common.Address{}, errors.New("subject is the zero address")
	}
	return principal, nil
}

// IssueToken signs an HS256 token for principal valid for ttl.
func IssueToken(secret, issuer string, principal common.Address, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("rpc: auth secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   principal.Hex(),
		Issuer:    strings.TrimSpace(issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(strings.TrimSpace(secret)))
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (common.Address, bool) {
	principal, ok := ctx.Value(contextKeyPrincipal).(common.Address)
	return principal, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
