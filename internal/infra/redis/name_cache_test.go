package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

type countingNames struct {
	name  string
	calls int
}

func (n *countingNames) DisplayName(context.Context, string) (string, error) {
	n.calls++
	if n.name == "" {
		return "", errors.New("lookup failed")
	}
	return n.name, nil
}

func TestNameCacheCachesLookups(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	source := &countingNames{name: "StreamFan"}
	cache := NewNameCache(newClient(mr), source, time.Minute)

	name, err := cache.DisplayName(context.Background(), "U123")
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "StreamFan" || source.calls != 1 {
		t.Fatalf("expected lookup once, got name=%q calls=%d", name, source.calls)
	}

	if _, err := cache.DisplayName(context.Background(), "U123"); err != nil {
		t.Fatalf("cached display name: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, calls=%d", source.calls)
	}
}

func TestNameCacheDoesNotCacheFailures(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	source := &countingNames{}
	cache := NewNameCache(newClient(mr), source, time.Minute)

	if _, err := cache.DisplayName(context.Background(), "U123"); err == nil {
		t.Fatalf("expected lookup failure to propagate")
	}
	if mr.Exists("user:U123:name") {
		t.Fatalf("failed lookups must not be cached")
	}
}
