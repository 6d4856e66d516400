package rpc

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Scopes a colony service token may carry.
const (
	ScopeLogAppend  = "log:append"
	ScopeStakeWrite = "stake:write"

	scopeClaim = "scope"
)

// methodScopes lists the methods that need a bearer credential.
var methodScopes = map[string]string{
	MethodAppendUpdate:  ScopeLogAppend,
	MethodStakeDeposit:  ScopeStakeWrite,
	MethodStakeWithdraw: ScopeStakeWrite,
}

// JWTConfig enables HS256 service tokens next to the static AuthToken.
type JWTConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type authenticator struct {
	token    string
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

func newAuthenticator(token string, cfg JWTConfig) *authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &authenticator{
		token:    strings.TrimSpace(token),
		secret:   []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}
}

// authorize admits the static token for every scope and a JWT only for the
// scopes it lists.
func (a *authenticator) authorize(r *http.Request, scope string) *RPCError {
	if a.token == "" && len(a.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	bearer := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if bearer == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(a.token)) == 1 {
		return nil
	}
	if len(a.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	claims, err := a.parse(bearer)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	if !hasScope(claims, scope) {
		return &RPCError{Code: codeUnauthorized, Message: "token lacks scope " + scope}
	}
	return nil
}

func (a *authenticator) parse(raw string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	switch v := claims[scopeClaim].(type) {
	case string:
		for _, s := range strings.Fields(v) {
			if s == want {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// TokenRequest describes a service token to mint.
type TokenRequest struct {
	Subject  string
	Scopes   []string
	TTL      time.Duration
	Issuer   string
	Audience string
}

// IssueToken signs an HS256 service token carrying req.Scopes.
func IssueToken(secret string, req TokenRequest, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("rpc: token secret required")
	}
	if req.TTL <= 0 {
		return "", errors.New("rpc: token ttl must be positive")
	}
	for _, s := range req.Scopes {
		if s != ScopeLogAppend && s != ScopeStakeWrite {
			return "", fmt.Errorf("rpc: unknown scope %q", s)
		}
	}
	claims := jwt.MapClaims{
		"iat":      now.Unix(),
		"exp":      now.Add(req.TTL).Unix(),
		scopeClaim: strings.Join(req.Scopes, " "),
	}
	if req.Subject != "" {
		claims["sub"] = req.Subject
	}
	if req.Issuer != "" {
		claims["iss"] = req.Issuer
	}
	if req.Audience != "" {
		claims["aud"] = req.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
