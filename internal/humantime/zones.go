package humantime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"remindbot/internal/delivery"
	logx "remindbot/pkg/logx"
)

var ErrUnknownTimezone = errors.New("unknown timezone")

// PrefsStore is the part of the store holding user timezones.
type PrefsStore interface {
	GetTimezone(ctx context.Context, userID int64) (string, bool, error)
	SetTimezone(ctx context.Context, userID int64, tz string) error
}

// Zones resolves user timezones from the store through a short-lived cache.
type Zones struct {
	store PrefsStore
	log   logx.Logger
	cache *cache.Cache

	mu  sync.RWMutex
	def string
}

// NewZones returns a resolver falling back to def (delivery.DefaultTimezone when empty).
func NewZones(store PrefsStore, def string, ttl time.Duration, log logx.Logger) *Zones {
	if strings.TrimSpace(def) == "" {
		def = delivery.DefaultTimezone
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Zones{store: store, log: log, cache: cache.New(ttl, 2*ttl), def: def}
}

func key(userID int64) string { return strconv.FormatInt(userID, 10) }

func (z *Zones) ResolveUserTimezone(ctx context.Context, userID int64) string {
	if v, ok := z.cache.Get(key(userID)); ok {
		return v.(string)
	}
	tz, ok, err := z.store.GetTimezone(ctx, userID)
	if err != nil {
		// Not cached so the next lookup retries the store.
		z.log.Warn("timezone lookup failed", logx.Int64("user", userID), logx.Err(err))
		return z.Default()
	}
	if !ok {
		tz = z.Default()
	}
	z.cache.SetDefault(key(userID), tz)
	return tz
}

// SetTimezone validates zone, stores it and refreshes the cache.
func (z *Zones) SetTimezone(ctx context.Context, userID int64, zone string) error {
	zone = strings.TrimSpace(zone)
	if zone == "" || strings.EqualFold(zone, "local") {
		return fmt.Errorf("%w %q", ErrUnknownTimezone, zone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return fmt.Errorf("%w %q", ErrUnknownTimezone, zone)
	}
	if err := z.store.SetTimezone(ctx, userID, loc.String()); err != nil {
		return err
	}
	z.cache.SetDefault(key(userID), loc.String())
	return nil
}

func (z *Zones) Default() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.def
}

// SetDefault changes the fallback zone and drops cached fallbacks.
func (z *Zones) SetDefault(def string) {
	def = strings.TrimSpace(def)
	z.mu.Lock()
	if def == "" || def == z.def {
		z.mu.Unlock()
		return
	}
	z.def = def
	z.mu.Unlock()
	z.cache.Flush()
}

var _ delivery.TimezoneResolver = (*Zones)(nil)
