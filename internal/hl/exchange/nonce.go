package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// NonceStore persists the last issued nonce so a restart never reuses one.
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

// nonceSequence issues strictly increasing millisecond nonces. Once a store
// is attached every issued nonce is written through.
type nonceSequence struct {
	last      atomic.Uint64
	persisted atomic.Uint64

	mu     sync.Mutex
	store  NonceStore
	key    string
	warned atomic.Bool
}

func (n *nonceSequence) next(log *zap.Logger) uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := n.last.Load()
		next := max(now, prev+1)
		if n.last.CompareAndSwap(prev, next) {
			n.persist(next, log)
			return next
		}
	}
}

// attach seeds the sequence from the store, never moving it backwards.
func (n *nonceSequence) attach(ctx context.Context, store NonceStore, key string) error {
	seed := uint64(time.Now().UnixMilli())
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		stored, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		seed = max(seed, stored)
	}
	seed = max(seed, n.last.Load())

	n.mu.Lock()
	n.store = store
	n.key = key
	n.mu.Unlock()
	n.last.Store(seed)
	n.persisted.Store(seed)
	return nil
}

func (n *nonceSequence) state() (NonceState, bool) {
	n.mu.Lock()
	key := n.key
	attached := n.store != nil
	n.mu.Unlock()
	if !attached || key == "" {
		return NonceState{}, false
	}
	return NonceState{Key: key, Last: n.last.Load(), Persisted: n.persisted.Load()}, true
}

func (n *nonceSequence) persist(nonce uint64, log *zap.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store == nil || n.key == "" || nonce <= n.persisted.Load() {
		return
	}
	if err := n.store.Set(context.Background(), n.key, strconv.FormatUint(nonce, 10)); err != nil {
		if log != nil && n.warned.CompareAndSwap(false, true) {
			log.Warn("nonce persistence failed", zap.String("nonce_key", n.key), zap.Error(err))
		}
		return
	}
	n.persisted.Store(nonce)
	n.warned.Store(false)
}

// nonceStoreKey scopes persisted nonces by venue, signer and vault.
func nonceStoreKey(baseURL string, signer *Signer, vault *common.Address) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	scope := "none"
	if vault != nil {
		scope = strings.ToLower(vault.Hex())
	}
	return fmt.Sprintf("exchange:nonce:%s:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), addr, scope)
}
