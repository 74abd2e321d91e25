// guard_token_test.go: Tests for the one-time token guard
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTokenGuard(t *testing.T, clock *fakeClock, lifetime time.Duration) *TokenGuard {
	t.Helper()
	cache := NewCache(nil, WithClock(clock.Now), WithCacheLogger(discardLogger()))
	g, err := NewTokenGuard([]byte("s3cret"), cache, WithTokenClock(clock.Now), WithTokenLifetime(lifetime))
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	return g
}

func TestTokenGuardRequiresSecret(t *testing.T) {
	if _, err := NewTokenGuard(nil, nil); !HasCode(err, ErrCodeInvalidConfig) {
		t.Fatalf("err = %v, want %s", err, ErrCodeInvalidConfig)
	}
}

func TestTokenIssueAndVerifyOnce(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	g := newTokenGuard(t, clock, time.Hour)

	token, err := g.Issue("sess-1", "checkout")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("token %q should have three parts", token)
	}

	if err := g.Verify(token, "sess-1", "checkout"); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	err = g.Verify(token, "sess-1", "checkout")
	if !HasCode(err, ErrCodeInvalidToken) {
		t.Fatalf("replay err = %v, want %s", err, ErrCodeInvalidToken)
	}

	other, _ := g.Issue("sess-1", "checkout")
	if other == token {
		t.Fatal("two issued tokens must differ")
	}
	if err := g.Verify(other, "sess-1", "checkout"); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestTokenIssueRequiresPurpose(t *testing.T) {
	g := newTokenGuard(t, &fakeClock{t: fixedNow}, time.Hour)
	if _, err := g.Issue("sess", ""); !HasCode(err, ErrCodeInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestTokenVerifyRejections(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	g := newTokenGuard(t, clock, time.Hour)

	tests := []struct {
		name    string
		token   func() string
		session string
		purpose string
	}{
		{
			name:    "wrong session",
			token:   func() string { tok, _ := g.Issue("sess-1", "checkout"); return tok },
			session: "sess-2",
			purpose: "checkout",
		},
		{
			name:    "wrong purpose",
			token:   func() string { tok, _ := g.Issue("sess-1", "checkout"); return tok },
			session: "sess-1",
			purpose: "profile",
		},
		{
			name:    "malformed",
			token:   func() string { return "not-a-token" },
			session: "sess-1",
			purpose: "checkout",
		},
		{
			name:    "empty nonce",
			token:   func() string { return ".123.abc" },
			session: "sess-1",
			purpose: "checkout",
		},
		{
			name: "tampered signature",
			token: func() string {
				tok, _ := g.Issue("sess-1", "checkout")
				last := "0"
				if strings.HasSuffix(tok, "0") {
					last = "1"
				}
				return tok[:len(tok)-1] + last
			},
			session: "sess-1",
			purpose: "checkout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.Verify(tt.token(), tt.session, tt.purpose); !HasCode(err, ErrCodeInvalidToken) {
				t.Fatalf("err = %v, want %s", err, ErrCodeInvalidToken)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	g := newTokenGuard(t, clock, time.Hour)

	token, _ := g.Issue("sess", "checkout")
	clock.Advance(time.Hour)
	if err := g.Verify(token, "sess", "checkout"); !HasCode(err, ErrCodeInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	token, _ = g.Issue("sess", "checkout")
	clock.Advance(59 * time.Minute)
	if err := g.Verify(token, "sess", "checkout"); err != nil {
		t.Fatalf("token inside lifetime rejected: %v", err)
	}
}

func TestTokenFromTheFuture(t *testing.T) {
	clock := &fakeClock{t: fixedNow.Add(10 * time.Minute)}
	g := newTokenGuard(t, clock, time.Hour)
	token, _ := g.Issue("sess", "checkout")

	clock.t = fixedNow
	if err := g.Verify(token, "sess", "checkout"); !HasCode(err, ErrCodeInvalidToken) {
		t.Fatalf("future token accepted: %v", err)
	}

	clock.t = fixedNow.Add(9*time.Minute + 30*time.Second)
	if err := g.Verify(token, "sess", "checkout"); err != nil {
		t.Fatalf("token within clock skew rejected: %v", err)
	}
}

func TestTokenConsumedNonceExpiresWithToken(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	g := newTokenGuard(t, clock, time.Minute)
	token, _ := g.Issue("sess", "checkout")
	if err := g.Verify(token, "sess", "checkout"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := g.cache.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st := g.cache.Stats(); st.DurableEntries != 0 {
		t.Fatalf("consumed nonce outlived its token: %+v", st)
	}
}

func TestTokenGuardCheck(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	g := newTokenGuard(t, clock, time.Hour)
	token, _ := g.Issue("sess", "product_form")

	check := func(desc GuardDescriptor, req *Request) Outcome {
		return g.Check(context.Background(), &GuardContext{Descriptor: desc, Request: req})
	}

	if out := check(NewGuard(RuleToken), &Request{}); out.Kind != OutcomeFail || out.Reason != "token guard declares no name" {
		t.Fatalf("missing name: %+v", out)
	}
	desc := NewGuard(RuleToken, "name", "product_form")
	if out := check(desc, &Request{Session: "sess"}); out.Kind != OutcomeFail || out.Reason != "missing product_form token" {
		t.Fatalf("missing token: %+v", out)
	}
	if out := check(desc, nil); out.Kind != OutcomeFail {
		t.Fatalf("nil request must fail: %+v", out)
	}

	req := &Request{Session: "sess", Params: map[string]string{DefaultTokenField: token}}
	if out := check(desc, req); out.Kind != OutcomeProceed {
		t.Fatalf("valid token: %+v", out)
	}
	if out := check(desc, req); out.Kind != OutcomeFail || out.Reason != "invalid product_form token" {
		t.Fatalf("replayed token: %+v", out)
	}

	custom, _ := g.Issue("sess", "product_form")
	field := NewGuard(RuleToken, "name", "product_form", "field", "csrf")
	if out := check(field, &Request{Session: "sess", Params: map[string]string{"csrf": custom}}); out.Kind != OutcomeProceed {
		t.Fatalf("custom field: %+v", out)
	}
}

func TestTokenWithoutCacheCanReplay(t *testing.T) {
	g, err := NewTokenGuard([]byte("k"), nil)
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	token, _ := g.Issue("", "p")
	for i := 0; i < 2; i++ {
		if err := g.Verify(token, "", "p"); err != nil {
			t.Fatalf("Verify #%d: %v", i, err)
		}
	}
}

func TestTokenConsumedAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.cache")
	clock := &fakeClock{t: fixedNow}
	process := func() (*TokenGuard, *Cache) {
		cache := NewCache(NewFileStore(path), WithClock(clock.Now), WithCacheLogger(discardLogger()))
		g, err := NewTokenGuard([]byte("s3cret"), cache, WithTokenClock(clock.Now))
		if err != nil {
			t.Fatalf("NewTokenGuard: %v", err)
		}
		return g, cache
	}
	a, cacheA := process()
	b, cacheB := process()

	// b serves an unrelated request first, so its durable tier was loaded.
	if _, ok := Load[string](cacheB, "warm"); ok {
		t.Fatal("unexpected entry")
	}
	if err := cacheB.Flush(ctx); err != nil {
		t.Fatalf("Flush b: %v", err)
	}

	token, err := a.Issue("sess-1", "checkout")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := a.Verify(token, "sess-1", "checkout"); err != nil {
		t.Fatalf("Verify on a: %v", err)
	}
	if err := cacheA.Flush(ctx); err != nil {
		t.Fatalf("Flush a: %v", err)
	}

	if err := b.Verify(token, "sess-1", "checkout"); !HasCode(err, ErrCodeInvalidToken) {
		t.Fatalf("replay on b err = %v, want %s", err, ErrCodeInvalidToken)
	}
}
