package rpc

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultSubmitScope = "sale:submit"

// JWTConfig enables HS256 bearer tokens for tx_send. When enabled it takes
// precedence over the static AuthToken.
type JWTConfig struct {
	Enable     bool
	HMACSecret string
	Issuer     string
	Audience   string
	// Scope must appear in the token's space separated "scope" claim.
	// Empty selects "sale:submit".
	Scope     string
	ClockSkew time.Duration
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if !s.cfg.JWT.Enable && s.cfg.AuthToken == "" {
		return nil
	}
	token, rpcErr := bearerToken(r.Header.Get("Authorization"))
	if rpcErr != nil {
		return rpcErr
	}
	if s.cfg.JWT.Enable {
		if err := s.verifyJWT(token); err != nil {
			s.logger.Warn("rpc: jwt rejected", "error", err)
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func bearerToken(header string) (string, *RPCError) {
	if header == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	return token, nil
}

func (s *Server) verifyJWT(raw string) error {
	secret := []byte(strings.TrimSpace(s.cfg.JWT.HMACSecret))
	if len(secret) == 0 {
		return errors.New("jwt secret not configured")
	}
	skew := s.cfg.JWT.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.JWT.Issuer))
	}
	if s.cfg.JWT.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.JWT.Audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...); err != nil {
		return err
	}
	required := s.cfg.JWT.Scope
	if required == "" {
		required = defaultSubmitScope
	}
	if !hasScope(claims["scope"], required) {
		return errors.New("insufficient scope")
	}
	return nil
}

func hasScope(raw interface{}, required string) bool {
	switch v := raw.(type) {
	case string:
		for _, field := range strings.Fields(v) {
			if field == required {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == required {
				return true
			}
		}
	}
	return false
}
