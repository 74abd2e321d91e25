// guard_token.go: One-time per-purpose token guard
//
// Tokens have the form nonce.issuedAt.mac where mac is an HMAC-SHA256 over
// purpose, session, nonce and issue time. A nonce is accepted once; consumed
// nonces are remembered in the cache until the token would have expired.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// RuleToken is the rule type served by TokenGuard.
const RuleToken = "token"

// maxClockSkew tolerates tokens issued slightly in the future by another node.
const maxClockSkew = time.Minute

// TokenOption configures a TokenGuard.
type TokenOption func(*TokenGuard)

// WithTokenLifetime bounds token validity. Non-positive values keep the default.
func WithTokenLifetime(d time.Duration) TokenOption {
	return func(g *TokenGuard) {
		if d > 0 {
			g.lifetime = d
		}
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(g *TokenGuard) { g.now = now }
}

// TokenGuard validates one-time tokens bound to a session and a purpose.
type TokenGuard struct {
	secret   []byte
	lifetime time.Duration
	cache    *Cache
	now      func() time.Time
}

// NewTokenGuard creates a guard signing with secret. cache records consumed
// nonces; with a nil cache tokens are still verified but may be replayed.
func NewTokenGuard(secret []byte, cache *Cache, opts ...TokenOption) (*TokenGuard, error) {
	if len(secret) == 0 {
		return nil, errors.New(ErrCodeInvalidConfig, "token secret is required")
	}
	g := &TokenGuard{
		secret:   append([]byte(nil), secret...),
		lifetime: DefaultTokenLifetime,
		cache:    cache,
		now:      timecache.CachedTime,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue mints a token for purpose bound to session.
func (g *TokenGuard) Issue(session, purpose string) (string, error) {
	if purpose == "" {
		return "", errors.New(ErrCodeInvalidToken, "token purpose is required")
	}
	nonce := uuid.NewString()
	issued := strconv.FormatInt(g.now().Unix(), 10)
	return nonce + "." + issued + "." + g.sign(purpose, session, nonce, issued), nil
}

func (g *TokenGuard) sign(purpose, session, nonce, issued string) string {
	mac := hmac.New(sha256.New, g.secret)
	for _, part := range []string{purpose, session, nonce, issued} {
		mac.Write([]byte(part))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks token for purpose and session and consumes its nonce.
func (g *TokenGuard) Verify(token, session, purpose string) error {
	invalid := func(msg string) error {
		return errors.New(ErrCodeInvalidToken, msg).WithContext("purpose", purpose)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return invalid("malformed token")
	}
	nonce, issued, sig := parts[0], parts[1], parts[2]

	expected := g.sign(purpose, session, nonce, issued)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return invalid("token signature mismatch")
	}

	unix, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return invalid("malformed token timestamp")
	}
	issuedAt := time.Unix(unix, 0)
	now := g.now()
	if issuedAt.After(now.Add(maxClockSkew)) {
		return invalid("token issued in the future")
	}
	expiresAt := issuedAt.Add(g.lifetime)
	if !now.Before(expiresAt) {
		return invalid("token expired")
	}

	if g.cache != nil {
		key := "janus:token:" + nonce
		if _, used := Load[bool](g.cache, key); used {
			return invalid("token already used")
		}
		if err := Put(g.cache, key, true, expiresAt.Sub(now)); err != nil {
			return err
		}
	}
	return nil
}

// Check implements Guard. The token is read from the request parameter
// named by "field", default _token.
func (g *TokenGuard) Check(_ context.Context, gc *GuardContext) Outcome {
	purpose := gc.Descriptor.String("name")
	if purpose == "" {
		return Fail("token guard declares no name")
	}
	field := gc.Descriptor.String("field")
	if field == "" {
		field = DefaultTokenField
	}
	token := gc.Request.Param(field)
	if token == "" {
		return Fail("missing " + purpose + " token")
	}
	session := ""
	if gc.Request != nil {
		session = gc.Request.Session
	}
	if err := g.Verify(token, session, purpose); err != nil {
		return Fail("invalid " + purpose + " token")
	}
	return Proceed()
}
