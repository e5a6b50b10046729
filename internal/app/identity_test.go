package app_test

import (
	"context"
	"errors"
	"testing"

	"twitch-trivia-service/internal/app"
	"twitch-trivia-service/internal/domain"
	"twitch-trivia-service/internal/infra/memory"

	"go.uber.org/zap"
)

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, key string) (string, error) {
	if name, ok := n[key]; ok {
		return name, nil
	}
	return "", errors.New("unknown user")
}

func newTestResolver(names staticNames) (*app.Resolver, *memory.Store) {
	store := memory.NewStore(nil)
	return app.NewResolver(store, names, zap.NewNop()), store
}

func TestResolveAnonymousAssignsGuestNumbers(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(staticNames{})

	first, err := resolver.Resolve(ctx, "A-alpha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := resolver.Resolve(ctx, "A-beta")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if first.DisplayName != "Guest 1" || !first.Anonymous {
		t.Fatalf("expected anonymous Guest 1, got %+v", first)
	}
	if second.DisplayName != "Guest 2" {
		t.Fatalf("expected Guest 2, got %+v", second)
	}

	// Resolving the same key again returns the same identity.
	again, err := resolver.Resolve(ctx, "A-alpha")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected stable identity, got %s vs %s", again.ID, first.ID)
	}
}

func TestReleaseRecyclesGuestNumber(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(staticNames{})

	if _, err := resolver.Resolve(ctx, "A-alpha"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := resolver.Resolve(ctx, "A-beta"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	resolver.Release("A-alpha")

	third, err := resolver.Resolve(ctx, "A-gamma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if third.DisplayName != "Guest 1" {
		t.Fatalf("released guest number must be reused, got %q", third.DisplayName)
	}
}

func TestResolveAuthenticatedUsesLookupWithFallback(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(staticNames{"U123": "StreamFan"})

	user, err := resolver.Resolve(ctx, "U123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.DisplayName != "StreamFan" || user.Anonymous {
		t.Fatalf("expected authenticated StreamFan, got %+v", user)
	}

	// Lookup failure falls back to a deterministic placeholder.
	fallback, err := resolver.Resolve(ctx, "U456789")
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if fallback.DisplayName != app.FallbackName("U456789") {
		t.Fatalf("expected fallback name %q, got %q", app.FallbackName("U456789"), fallback.DisplayName)
	}
}

func TestMergeRelinksAndRecycles(t *testing.T) {
	ctx := context.Background()
	resolver, store := newTestResolver(staticNames{"U9": "StreamFan"})

	anon, err := resolver.Resolve(ctx, "A-alpha")
	if err != nil {
		t.Fatalf("resolve anon: %v", err)
	}
	_ = store.SaveResponses(ctx, []domain.Response{{UserID: anon.ID, QuestionID: "q1", Points: 150}})

	from, to, err := resolver.Merge(ctx, "A-alpha", "U9")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if from.ID != anon.ID || to.DisplayName != "StreamFan" {
		t.Fatalf("unexpected merge identities: from=%+v to=%+v", from, to)
	}

	for _, r := range store.Responses() {
		if r.UserID != to.ID {
			t.Fatalf("response not relinked: %+v", r)
		}
	}
	if _, ok := store.UserByKey("A-alpha"); ok {
		t.Fatalf("anonymous identity must be retired after merge")
	}

	// The guest number freed by the merge is immediately reusable.
	next, err := resolver.Resolve(ctx, "A-beta")
	if err != nil {
		t.Fatalf("resolve after merge: %v", err)
	}
	if next.DisplayName != "Guest 1" {
		t.Fatalf("expected Guest 1 after merge freed the number, got %q", next.DisplayName)
	}
}

func TestMergeSameIdentityIsNoop(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(staticNames{"U9": "StreamFan"})

	if _, err := resolver.Resolve(ctx, "U9"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	from, to, err := resolver.Merge(ctx, "U9", "U9")
	if err != nil {
		t.Fatalf("self merge must be a no-op, got %v", err)
	}
	if from.ID != to.ID {
		t.Fatalf("expected identical identities, got %s vs %s", from.ID, to.ID)
	}
}

type failingMergeStore struct {
	*memory.Store
}

func (s *failingMergeStore) MergeUsers(context.Context, string, string) error {
	return errors.New("storage down")
}

func TestMergeDurableFailureKeepsAnonymous(t *testing.T) {
	ctx := context.Background()
	store := &failingMergeStore{Store: memory.NewStore(nil)}
	resolver := app.NewResolver(store, staticNames{"U9": "StreamFan"}, zap.NewNop())

	anon, err := resolver.Resolve(ctx, "A-alpha")
	if err != nil {
		t.Fatalf("resolve anon: %v", err)
	}

	if _, _, err := resolver.Merge(ctx, "A-alpha", "U9"); err == nil {
		t.Fatalf("expected merge failure")
	}

	// The anonymous identity stays active for a retry.
	again, err := resolver.Resolve(ctx, "A-alpha")
	if err != nil {
		t.Fatalf("resolve after failed merge: %v", err)
	}
	if again.ID != anon.ID {
		t.Fatalf("anonymous identity must survive a failed merge")
	}
}
