package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/haivivi/twinbud/pkg/kv"
)

type record struct {
	Enabled bool  `msgpack:"enabled"`
	Mode    uint8 `msgpack:"mode"`
}

func backends(t *testing.T) map[string]kv.Store {
	t.Helper()
	b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	m := kv.NewMemory()
	t.Cleanup(func() {
		b.Close()
		m.Close()
	})
	return map[string]kv.Store{"memory": m, "badger": b}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"feature", "anc"}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, key, []byte("on")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil || string(got) != "on" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get after delete = %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []kv.Key{
				{"feature", "leakthrough"},
				{"feature", "anc"},
				{"featureX", "other"},
				{"anc", "prod_test"},
			} {
				if err := s.Set(ctx, k, []byte(k.String())); err != nil {
					t.Fatal(err)
				}
			}
			var keys []string
			for e, err := range s.List(ctx, kv.Key{"feature"}) {
				if err != nil {
					t.Fatal(err)
				}
				keys = append(keys, e.Key.String())
			}
			if len(keys) != 2 || keys[0] != "feature:anc" || keys[1] != "feature:leakthrough" {
				t.Errorf("List(feature) = %v", keys)
			}

			n := 0
			for range s.List(ctx, nil) {
				n++
			}
			if n != 4 {
				t.Errorf("List(nil) yielded %d entries, want 4", n)
			}
		})
	}
}

func TestValue(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"feature", "anc"}
			want := record{Enabled: true, Mode: 5}
			if err := kv.SetValue(ctx, s, key, want); err != nil {
				t.Fatal(err)
			}
			var got record
			if err := kv.GetValue(ctx, s, key, &got); err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("GetValue = %+v, want %+v", got, want)
			}

			if err := s.Set(ctx, key, []byte{0xc1}); err != nil {
				t.Fatal(err)
			}
			if err := kv.GetValue(ctx, s, key, &got); err == nil {
				t.Error("decoding garbage should fail")
			}
		})
	}
}

func TestBadgerRequiresDir(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Error("expected error without Dir")
	}
}
