// Package auth gates the API behind one shared password. A successful login
// yields a signed session token, sent back as a cookie.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"file-explorer/common"
	"file-explorer/metrics"
)

const (
	CookieName = "session"
	issuer     = "file-explorer"
)

var errInvalidToken = errors.New("invalid token")

type Config struct {
	Password     string // plain text, hashed at start-up
	PasswordHash string // bcrypt hash, used when Password is empty
	Secret       string // HMAC key; random per process when empty
	TTL          time.Duration
}

// Claims holds the session token claims.
type Claims struct {
	jwt.RegisteredClaims
}

type Gate struct {
	hash   []byte
	secret []byte
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// New builds the gate. With neither a password nor a hash configured the
// gate is disabled and lets every request through.
func New(cfg Config, log *zap.Logger) (*Gate, error) {
	g := &Gate{ttl: cfg.TTL, log: log, now: time.Now}
	if g.ttl <= 0 {
		g.ttl = 24 * time.Hour
	}

	switch {
	case cfg.Password != "":
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		g.hash = h
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		g.hash = []byte(cfg.PasswordHash)
	}

	if cfg.Secret != "" {
		g.secret = []byte(cfg.Secret)
	} else {
		g.secret = make([]byte, 32)
		if _, err := rand.Read(g.secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	return g, nil
}

func (g *Gate) Enabled() bool {
	return g.hash != nil
}

// Login checks password and returns a session token with its expiry.
func (g *Gate) Login(password string) (string, time.Time, error) {
	if !g.Enabled() {
		return "", time.Time{}, common.Validation("Login is not enabled")
	}
	if password == "" {
		return "", time.Time{}, common.Validation("Password is required")
	}

	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(password)); err != nil {
		metrics.RecordAuthAttempt(false)
		return "", time.Time{}, common.Unauthenticated("Invalid password")
	}
	metrics.RecordAuthAttempt(true)

	now := g.now()
	expires := now.Add(g.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, common.Internal("Failed to sign session", err)
	}
	return signed, expires, nil
}

// Verify checks a session token's signature, issuer and expiry.
func (g *Gate) Verify(tokenString string) error {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errInvalidToken
	}
	return nil
}

// Middleware rejects requests without a valid session. Paths listed in
// public are let through.
func (g *Gate) Middleware(public ...string) fiber.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(c *fiber.Ctx) error {
		if !g.Enabled() || open[c.Path()] {
			return c.Next()
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			return common.Unauthenticated("Authentication required")
		}
		if err := g.Verify(tokenString); err != nil {
			g.log.Debug("rejected session token", zap.Error(err))
			return common.Unauthenticated("Session expired or invalid")
		}
		return c.Next()
	}
}

// HandleLogin handles POST /api/login.
func (g *Gate) HandleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return common.Validation("Invalid request body")
	}

	token, expires, err := g.Login(req.Password)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return c.JSON(fiber.Map{"token": token, "expiresAt": expires.UTC()})
}

// HandleLogout handles POST /api/logout.
func (g *Gate) HandleLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return c.SendStatus(fiber.StatusNoContent)
}

func extractToken(c *fiber.Ctx) string {
	if v := c.Cookies(CookieName); v != "" {
		return v
	}
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
