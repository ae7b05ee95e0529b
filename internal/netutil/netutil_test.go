package netutil

import "testing"

func TestNormalizeUpstream(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com:9090", "example.com:9090"},
		{"example.com", "example.com:80"},
		{"http://example.com", "example.com:80"},
		{"http://example.com/", "example.com:80"},
		{"https://example.com", "example.com:443"},
		{"https://example.com/", "example.com:443"},
		{"https://example.com:8443/", "example.com:8443"},
		{"http://example.com:9090/", "example.com:9090"},
	}
	for _, tc := range cases {
		got, err := normalizeUpstream(tc.in)
		if err != nil {
			t.Fatalf("normalizeUpstream(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("normalizeUpstream(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeUpstreamRejectsEmpty(t *testing.T) {
	if _, err := normalizeUpstream("http:///"); err == nil {
		t.Fatalf("expected error for empty host")
	}
}

func TestResolveUpstreamAcceptsSchemeAndTrailingSlash(t *testing.T) {
	addr, err := ResolveUpstream("http://127.0.0.1/")
	if err != nil {
		t.Fatalf("ResolveUpstream: %v", err)
	}
	if addr.Port != 80 {
		t.Errorf("expected port 80, got %d", addr.Port)
	}
}

func TestResolveUpstreamHonorsExplicitPortOverScheme(t *testing.T) {
	addr, err := ResolveUpstream("https://127.0.0.1:9090")
	if err != nil {
		t.Fatalf("ResolveUpstream: %v", err)
	}
	if addr.Port != 9090 {
		t.Errorf("expected explicit port 9090 to win over the https default, got %d", addr.Port)
	}
}
