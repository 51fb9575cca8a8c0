// internal/vault/vault.go
//
// Vault-backed secret references for tenant environments.
//
// Context
// -------
// A domain env file may hold a reference instead of a literal value:
//
//	DOMAIN_DB_CONNECTIONS_BLOG_MAIN_PASSWORD=vault:secret/hostbus/blog#db_password
//
// The tenant env source hands every such value to Client.Resolve, which
// reads the key from a KV-v2 secret and caches it for the configured TTL.
//
// Workflow
// --------
//  1. cli, err := vault.New(ctx, ttl)           // during boot, when enabled.
//  2. val, err := cli.Resolve(ctx, "vault:...")  // anywhere afterwards.
//
// Notes
// -----
//   - VAULT_ADDR and VAULT_TOKEN are read from the process environment by the
//     SDK.  A background loop keeps the token renewed until ctx is done.
//   - Oxford commas, two spaces after periods.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// RefPrefix marks an env value as a secret reference.
const RefPrefix = "vault:"

// ErrBadRef is returned for references that do not parse as
// vault:<mount>/<path>#<key>.
var ErrBadRef = errors.New("malformed vault reference")

// kv is the subset of the SDK used for reads; tests substitute it.
type kv interface {
	Get(ctx context.Context, mount, path string) (map[string]any, error)
}

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	kv  kv
	ttl time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cached // mount/path#key → value + expiry.
	now     func() time.Time
}

type cached struct {
	val string
	exp time.Time
}

// New builds a client from the VAULT_* environment and starts token renewal.
func New(ctx context.Context, ttl time.Duration) (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	go renewLoop(ctx, api)

	return newClient(sdkKV{api: api}, ttl), nil
}

func newClient(k kv, ttl time.Duration) *Client {
	return &Client{kv: k, ttl: ttl, cache: make(map[string]cached), now: time.Now}
}

// IsRef reports whether v is a vault reference.
func IsRef(v string) bool { return strings.HasPrefix(v, RefPrefix) }

// ParseRef splits vault:<mount>/<path>#<key>.
func ParseRef(ref string) (mount, path, key string, err error) {
	body, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	secret, key, ok := strings.Cut(body, "#")
	if !ok || key == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	mount, path, ok = strings.Cut(secret, "/")
	if !ok || mount == "" || path == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return mount, path, key, nil
}

// Resolve returns the secret value named by ref.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	mount, path, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	canonical := mount + "/" + path + "#" + key

	if c.ttl > 0 {
		c.cacheMu.RLock()
		cv, ok := c.cache[canonical]
		c.cacheMu.RUnlock()
		if ok && c.now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	data, err := c.kv.Get(ctx, mount, path)
	if err != nil {
		return "", fmt.Errorf("vault get %s/%s: %w", mount, path, err)
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %s/%s", key, mount, path)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", canonical)
	}

	if c.ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: val, exp: c.now().Add(c.ttl)}
		c.cacheMu.Unlock()
	}
	return val, nil
}

//
// SDK adapter
//

type sdkKV struct{ api *vault.Client }

func (s sdkKV) Get(ctx context.Context, mount, path string) (map[string]any, error) {
	sec, err := s.api.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return sec.Data, nil
}

//
// Token renewal
//

func renewLoop(ctx context.Context, api *vault.Client) {
	log := zap.S().With("component", "vault")
	for {
		if ctx.Err() != nil {
			return
		}

		sec, err := api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			log.Warnw("token renew-self failed", "error", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			log.Infow("token is not renewable; sleeping 1h")
			backoff(ctx, time.Hour)
			continue
		}

		watcher, err := api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
			Secret: sec,
			Grace:  15 * time.Second,
		})
		if err != nil {
			log.Warnw("lifetime watcher init", "error", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		go watcher.Start()

		watch(ctx, watcher, log)
		watcher.Stop()
		backoff(ctx, 15*time.Second)
	}
}

func watch(ctx context.Context, w *vault.LifetimeWatcher, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				log.Warnw("token renewal stopped", "error", err)
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				log.Debugw("token renewed", "ttl_seconds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
