package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	AdminScope = "admin"

	ctxSubject = "auth.subject"
	ctxActor   = "auth.actor"
)

// Claims are the token claims we care about. Tokens are issued elsewhere; we only verify them.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret   []byte
	audience string
}

func NewAuth(secret, audience string) *Auth {
	return &Auth{secret: []byte(secret), audience: audience}
}

var errAuthRequired = &XRPCError{Status: http.StatusUnauthorized, Code: "AuthRequired", Message: "a bearer token is required"}

func (a *Auth) parse(header string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, &XRPCError{Status: http.StatusUnauthorized, Code: "AuthRequired", Message: "authentication is not configured"}
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errAuthRequired
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token has expired"
		}
		return nil, &XRPCError{Status: http.StatusUnauthorized, Code: "InvalidToken", Message: msg}
	}
	if !strings.HasPrefix(claims.Subject, "did:") {
		return nil, &XRPCError{Status: http.StatusUnauthorized, Code: "InvalidToken", Message: "token subject must be a DID"}
	}
	return &claims, nil
}

// Sign issues a token; used by tests and the operator tooling.
func (a *Auth) Sign(subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireVoter accepts any valid token; the subject DID is the voter.
func (a *Auth) RequireVoter(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := a.parse(c.Request().Header.Get("Authorization"))
		if err != nil {
			return err
		}
		c.Set(ctxSubject, claims.Subject)
		return next(c)
	}
}

// RequireAdmin accepts tokens carrying the admin scope.
func (a *Auth) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := a.parse(c.Request().Header.Get("Authorization"))
		if err != nil {
			return err
		}
		if claims.Scope != AdminScope {
			return &XRPCError{Status: http.StatusForbidden, Code: "Forbidden", Message: "admin scope required"}
		}
		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxActor, fmt.Sprintf("admin:%s", claims.Subject))
		return next(c)
	}
}

func subject(c echo.Context) string {
	s, _ := c.Get(ctxSubject).(string)
	return s
}

func actor(c echo.Context) string {
	s, _ := c.Get(ctxActor).(string)
	return s
}

// rateLimit keys on the authenticated subject when there is one, else the client IP.
func rateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if s := subject(c); s != "" {
				return s, nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return &XRPCError{Status: http.StatusForbidden, Code: "Forbidden", Message: "unable to identify client"}
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return &XRPCError{Status: http.StatusTooManyRequests, Code: "RateLimitExceeded", Message: "too many requests"}
		},
	})
}
