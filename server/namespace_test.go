package server

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/json":      "/json",
		"json":       "/json",
		"//a//b/":    "/a/b",
		"":           "/",
		"/a/b/c":     "/a/b/c",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRuntimeMountDuplicateRejected(t *testing.T) {
	rt := NewRuntime()
	cfg := DefaultConfig()

	if _, err := rt.Mount("/json", cfg, Handlers{}); err != nil {
		t.Fatalf("first Mount: %v", err)
	}
	if _, err := rt.Mount("/json", cfg, Handlers{}); err == nil {
		t.Fatal("expected ConfigError mounting duplicate namespace")
	}
	if _, err := rt.Mount("json", cfg, Handlers{}); err == nil {
		t.Fatal("expected ConfigError: normalized path collides with existing mount")
	}
}

func TestRuntimeNamespaceLookup(t *testing.T) {
	rt := NewRuntime()
	cfg := DefaultConfig()
	mounted, err := rt.Mount("chat", cfg, Handlers{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	got, ok := rt.Namespace("/chat")
	if !ok || got != mounted {
		t.Fatal("expected lookup by normalized path to find the mounted namespace")
	}
}
