package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"  /  ":   "",
		"api":     "/api",
		"/api":    "/api",
		"/api/":   "/api",
		"/a/b///": "/a/b",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	good := []string{"web", "svc-1", "a.b_c", "UPPER", "0"}
	for _, s := range good {
		if !isSafeName(s) {
			t.Fatalf("expected %q to be safe", s)
		}
	}
	bad := []string{"", "..", "a..b", "a/b", `a\b`, "sp ace", "uni코드", "a\x00b"}
	for _, s := range bad {
		if isSafeName(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestIsSafeEntryPath(t *testing.T) {
	good := []string{"app.js", "src/main.py", "scripts/run.sh", "a.b/c.mjs"}
	for _, s := range good {
		if !isSafeEntryPath(s) {
			t.Fatalf("expected %q to be safe", s)
		}
	}
	bad := []string{"", "/abs.js", "../up.py", "a/../b.sh", "./x.js", "..", `win\path.js`, "a\x00b.js", "a\nb.py"}
	for _, s := range bad {
		if isSafeEntryPath(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
