package utils

import "testing"

func TestKeyMatch(t *testing.T) {
	for _, tc := range []struct {
		key, pattern string
		want         bool
	}{
		{"/foo", "/foo", true},
		{"/foo", "/foo*", true},
		{"/foo", "/foo/*", false},
		{"/foo/bar", "/foo/*", true},
		{"/foobar", "/foo", false},
	} {
		if got := KeyMatch(tc.key, tc.pattern); got != tc.want {
			t.Fatalf("KeyMatch(%q, %q): expected %v, got %v", tc.key, tc.pattern, tc.want, got)
		}
	}
}

func TestKeyMatch2(t *testing.T) {
	for _, tc := range []struct {
		key, pattern string
		want         bool
	}{
		{"/foo/bar", "/foo/:id", true},
		{"/foo/bar/baz", "/foo/:id", false},
		{"/foo/bar", "/foo/*", true},
		{"/resource1", "/:resource", true},
	} {
		if got := KeyMatch2(tc.key, tc.pattern); got != tc.want {
			t.Fatalf("KeyMatch2(%q, %q): expected %v, got %v", tc.key, tc.pattern, tc.want, got)
		}
	}
}

func TestKeyMatch3(t *testing.T) {
	if !KeyMatch3("/foo/bar", "/foo/{id}") {
		t.Fatal("expected match")
	}
	if KeyMatch3("/foo/bar/baz", "/foo/{id}") {
		t.Fatal("placeholder must not span segments")
	}
}

func TestKeyMatch4(t *testing.T) {
	if !KeyMatch4("/parent/1/child/1", "/parent/{id}/child/{id}") {
		t.Fatal("equal captures must match")
	}
	if KeyMatch4("/parent/1/child/2", "/parent/{id}/child/{id}") {
		t.Fatal("unequal captures of the same name must not match")
	}
	if !KeyMatch4("/parent/1/child/2", "/parent/{id}/child/{cid}") {
		t.Fatal("distinct names may capture distinct values")
	}
}

func TestKeyMatch5(t *testing.T) {
	if !KeyMatch5("/foo/bar?status=1", "/foo/{id}") {
		t.Fatal("query string must be ignored")
	}
	if KeyMatch5("/foo/bar/baz", "/foo/{id}") {
		t.Fatal("unexpected match")
	}
}

func TestRegexMatch(t *testing.T) {
	if !RegexMatch("GET", "GET|POST") {
		t.Fatal("expected match")
	}
	if RegexMatch("DELETE", "GET|POST") {
		t.Fatal("unexpected match")
	}
	// Partial matches must not pass; the pattern is anchored.
	if RegexMatch("POSTER", "POST") {
		t.Fatal("anchoring failed")
	}
}

func TestGlobMatch(t *testing.T) {
	ok, err := GlobMatch("/foo/bar", "/foo/*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}
	if _, err := GlobMatch("x", "[]"); err == nil {
		t.Fatal("malformed glob must error")
	}
}

func TestIPMatch(t *testing.T) {
	for _, tc := range []struct {
		ip, pattern string
		want        bool
	}{
		{"192.168.2.123", "192.168.2.0/24", true},
		{"192.168.3.123", "192.168.2.0/24", false},
		{"10.0.0.1", "10.0.0.1", true},
		{"not-an-ip", "10.0.0.0/8", false},
	} {
		if got := IPMatch(tc.ip, tc.pattern); got != tc.want {
			t.Fatalf("IPMatch(%q, %q): expected %v, got %v", tc.ip, tc.pattern, tc.want, got)
		}
	}
}
