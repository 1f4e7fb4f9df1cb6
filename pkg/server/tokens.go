package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/crypto"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

// tokenSet holds the admin API tokens. Argon2 verification is slow on
// purpose, so raw tokens that verified once are remembered by fingerprint
// until the set is replaced.
type tokenSet struct {
	mu       sync.RWMutex
	tokens   []model.APIToken
	verified map[string]string // crypto.HashToken(raw) -> token name
}

func newTokenSet(tokens []model.APIToken) *tokenSet {
	t := &tokenSet{}
	t.set(tokens)
	return t
}

func (t *tokenSet) set(tokens []model.APIToken) {
	cp := make([]model.APIToken, len(tokens))
	copy(cp, tokens)
	t.mu.Lock()
	t.tokens = cp
	t.verified = make(map[string]string)
	t.mu.Unlock()
}

func (t *tokenSet) add(tok model.APIToken) {
	t.mu.Lock()
	t.tokens = append(t.tokens, tok)
	t.mu.Unlock()
}

func (t *tokenSet) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}

// verify returns the token raw matches, unless it has expired at now.
func (t *tokenSet) verify(raw string, now time.Time) (model.APIToken, bool) {
	if raw == "" {
		return model.APIToken{}, false
	}
	fp := crypto.HashToken(raw)

	t.mu.RLock()
	tokens := t.tokens
	name, cached := t.verified[fp]
	t.mu.RUnlock()

	if cached {
		for _, tok := range tokens {
			if tok.Name == name {
				return tok, !tok.IsExpired(now)
			}
		}
	}

	for _, tok := range tokens {
		ok, err := crypto.VerifyAPIToken(raw, tok.Hash)
		if err != nil {
			slog.Warn("unusable admin token hash", "token", tok.Name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		t.mu.Lock()
		t.verified[fp] = tok.Name
		t.mu.Unlock()
		return tok, !tok.IsExpired(now)
	}
	return model.APIToken{}, false
}
