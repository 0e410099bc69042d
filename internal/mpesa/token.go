package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/cache"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/httpclient"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	// tokens are refreshed this long before Daraja expires them
	tokenSkew   = 60 * time.Second
	minTokenTTL = 30 * time.Second
)

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenSource hands out Daraja OAuth tokens, shared across replicas through Redis.
type TokenSource struct {
	http           *httpclient.Client
	consumerKey    string
	consumerSecret string
	cache          *cache.Manager

	mu      sync.Mutex
	current cachedToken
	now     func() time.Time
}

// NewTokenSource creates a token source. cacheManager may be nil, in which case tokens
// are only kept in process.
func NewTokenSource(http *httpclient.Client, consumerKey, consumerSecret string, cacheManager *cache.Manager) *TokenSource {
	return &TokenSource{
		http:           http,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		cache:          cacheManager,
		now:            time.Now,
	}
}

// Token returns a valid access token, fetching a new one when needed
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.current.AccessToken != "" && now.Before(t.current.ExpiresAt) {
		return t.current.AccessToken, nil
	}

	key := cache.GatewayTokenKey(t.consumerKey)
	if t.cache != nil {
		var cached cachedToken
		if err := t.cache.Get(ctx, key, &cached); err == nil && cached.AccessToken != "" && now.Before(cached.ExpiresAt) {
			t.current = cached
			return cached.AccessToken, nil
		}
	}

	fresh, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	t.current = fresh

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, fresh, fresh.ExpiresAt.Sub(now)); err != nil {
			logger.WarnContext(ctx, "failed to cache mpesa token", zap.Error(err))
		}
	}

	return fresh.AccessToken, nil
}

// Invalidate drops the in-process token, e.g. after Daraja answers 401
func (t *TokenSource) Invalidate(ctx context.Context) {
	t.mu.Lock()
	t.current = cachedToken{}
	t.mu.Unlock()

	if t.cache != nil {
		_ = t.cache.Delete(ctx, cache.GatewayTokenKey(t.consumerKey))
	}
}

func (t *TokenSource) fetch(ctx context.Context) (cachedToken, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(t.consumerKey + ":" + t.consumerSecret))

	body, err := t.http.Get(ctx, tokenPath, map[string]string{
		"Authorization": "Basic " + credentials,
	})
	if err != nil {
		// credentials problems are ours to fix, so callers keep the transaction pending
		return cachedToken{}, fmt.Errorf("%w: fetch token: %v", common.ErrGatewayUnavailable, err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cachedToken{}, fmt.Errorf("decode mpesa token: %w", err)
	}
	if resp.AccessToken == "" {
		return cachedToken{}, fmt.Errorf("mpesa token response has no access_token")
	}

	expiresIn, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	ttl := time.Duration(expiresIn)*time.Second - tokenSkew
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	return cachedToken{
		AccessToken: resp.AccessToken,
		ExpiresAt:   t.now().Add(ttl),
	}, nil
}
