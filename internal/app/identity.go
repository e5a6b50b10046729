package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"twitch-trivia-service/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AnonymousKeyPrefix marks opaque viewer keys that belong to viewers who
// have not shared their identity. Twitch issues opaque IDs starting with
// "A" for those and "U" for authenticated viewers; the transport passes the
// key through untouched and the resolver only checks this marker.
const AnonymousKeyPrefix = "A"

// IsAnonymousKey reports whether an opaque key is anonymous.
func IsAnonymousKey(key string) bool {
	return strings.HasPrefix(key, AnonymousKeyPrefix)
}

// UserStore is the durable-store slice the resolver depends on.
type UserStore interface {
	// FindOrCreateUser upserts the identity for an external key and returns it.
	FindOrCreateUser(ctx context.Context, externalKey, displayName string, anonymous bool) (domain.User, error)
	// MergeUsers relinks every response of fromUserID to toUserID and deletes
	// fromUserID, all inside one transaction.
	MergeUsers(ctx context.Context, fromUserID, toUserID string) error
}

// NameSource looks up the public display name for an authenticated key.
type NameSource interface {
	DisplayName(ctx context.Context, externalKey string) (string, error)
}

// Resolver maps opaque viewer keys to stable internal identities. Anonymous
// keys get a recycled guest number; authenticated keys get their real
// display name, falling back to a deterministic placeholder when the lookup
// service is down.
type Resolver struct {
	store  UserStore
	names  NameSource
	alloc  *NumberAllocator
	logger *zap.Logger
	sf     singleflight.Group

	mu        sync.Mutex
	byKey     map[string]domain.User
	guestNums map[string]int
}

func NewResolver(store UserStore, names NameSource, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		names:     names,
		alloc:     NewNumberAllocator(),
		logger:    logger,
		byKey:     make(map[string]domain.User),
		guestNums: make(map[string]int),
	}
}

// Resolve returns the identity for an opaque key, creating it on first sight.
func (r *Resolver) Resolve(ctx context.Context, externalKey string) (domain.User, error) {
	r.mu.Lock()
	if user, ok := r.byKey[externalKey]; ok {
		r.mu.Unlock()
		return user, nil
	}
	r.mu.Unlock()

	result, err, _ := r.sf.Do(externalKey, func() (interface{}, error) {
		r.mu.Lock()
		if user, ok := r.byKey[externalKey]; ok {
			r.mu.Unlock()
			return user, nil
		}
		r.mu.Unlock()

		if IsAnonymousKey(externalKey) {
			return r.resolveAnonymous(ctx, externalKey)
		}
		return r.resolveAuthenticated(ctx, externalKey)
	})
	if err != nil {
		return domain.User{}, err
	}
	return result.(domain.User), nil
}

func (r *Resolver) resolveAnonymous(ctx context.Context, externalKey string) (domain.User, error) {
	n := r.alloc.Acquire()
	user, err := r.store.FindOrCreateUser(ctx, externalKey, GuestName(n), true)
	if err != nil {
		r.alloc.Release(n)
		return domain.User{}, fmt.Errorf("create anonymous user: %w", err)
	}

	r.mu.Lock()
	r.byKey[externalKey] = user
	r.guestNums[externalKey] = n
	r.mu.Unlock()
	return user, nil
}

func (r *Resolver) resolveAuthenticated(ctx context.Context, externalKey string) (domain.User, error) {
	name, err := r.names.DisplayName(ctx, externalKey)
	if err != nil {
		name = FallbackName(externalKey)
		r.logger.Warn("display name lookup failed, using fallback",
			zap.String("external_key", externalKey),
			zap.String("fallback", name),
			zap.Error(err))
	}

	user, err := r.store.FindOrCreateUser(ctx, externalKey, name, false)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	r.mu.Lock()
	r.byKey[externalKey] = user
	r.mu.Unlock()
	return user, nil
}

// Merge folds an anonymous identity into an authenticated one. The durable
// relink runs first; if it fails nothing changes in memory and the anonymous
// identity stays usable for a retry. Merging a key into itself is a no-op.
// The in-memory session score and in-flight answer move is the caller's job
// (it owns that state); Merge returns both identities for it.
func (r *Resolver) Merge(ctx context.Context, anonKey, authKey string) (from, to domain.User, err error) {
	r.mu.Lock()
	from, ok := r.byKey[anonKey]
	r.mu.Unlock()
	if !ok {
		return domain.User{}, domain.User{}, fmt.Errorf("merge: %w: %s", domain.ErrUserNotFound, anonKey)
	}

	to, err = r.Resolve(ctx, authKey)
	if err != nil {
		return domain.User{}, domain.User{}, err
	}
	if from.ID == to.ID {
		return from, to, nil
	}

	if err := r.store.MergeUsers(ctx, from.ID, to.ID); err != nil {
		return domain.User{}, domain.User{}, fmt.Errorf("merge users: %w", err)
	}

	r.Release(anonKey)
	r.logger.Info("merged anonymous identity",
		zap.String("from_user", from.ID),
		zap.String("to_user", to.ID))
	return from, to, nil
}

// Release drops the cached identity for a key and recycles its guest number.
// Called on viewer disconnect and after a merge.
func (r *Resolver) Release(externalKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.guestNums[externalKey]; ok {
		r.alloc.Release(n)
		delete(r.guestNums, externalKey)
	}
	delete(r.byKey, externalKey)
}

// GuestName derives the display name for an anonymous guest number.
func GuestName(n int) string {
	return fmt.Sprintf("Guest %d", n)
}

// FallbackName is the deterministic placeholder used when the display-name
// service is unavailable.
func FallbackName(externalKey string) string {
	suffix := externalKey
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "Viewer-" + suffix
}
