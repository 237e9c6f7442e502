package registry

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(Func("echo", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}))

	h, err := r.Lookup("echo")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if h.Name() != "echo" {
		t.Errorf("expected name echo, got %s", h.Name())
	}

	out, err := h.Execute(context.Background(), map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out["msg"] != "hi" {
		t.Errorf("expected input echoed back, got %v", out)
	}
}

func TestLookupMissing(t *testing.T) {
	r := New()

	_, err := r.Lookup("ghost")
	var nf *HandlerNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected HandlerNotFoundError, got %v", err)
	}
	if nf.Capability != "ghost" {
		t.Errorf("expected capability ghost, got %s", nf.Capability)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := New()
	r.Register(Func("work", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"version": 1}, nil
	}))
	r.Register(Func("work", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"version": 2}, nil
	}))

	if r.Count() != 1 {
		t.Fatalf("expected 1 handler, got %d", r.Count())
	}

	h, err := r.Lookup("work")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	out, _ := h.Execute(context.Background(), nil)
	if out["version"] != 2 {
		t.Errorf("expected replacement handler, got %v", out)
	}
}

func TestCapabilitiesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(Func(name, func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, nil
		}))
	}

	got := r.Capabilities()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("expected %d capabilities, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
