// Package utils provides the pattern matchers exposed to matcher
// expressions: URL-style key matching, regex, glob and CIDR checks.
package utils

import (
	"net"
	"path"
	"regexp"
	"strings"
	"sync"
)

// KeyMatch matches a request path against a pattern ending in "*", e.g.
// "/foo/bar" matches "/foo/*".
func KeyMatch(key, pattern string) bool {
	i := strings.Index(pattern, "*")
	if i == -1 {
		return key == pattern
	}
	if len(key) > i {
		return key[:i] == pattern[:i]
	}
	return key == pattern[:i]
}

// KeyMatch2 adds ":param" single-segment placeholders, e.g. "/foo/bar"
// matches "/foo/:id".
func KeyMatch2(key, pattern string) bool {
	pattern = strings.ReplaceAll(pattern, "/*", "/.*")
	pattern = paramPattern.ReplaceAllString(pattern, "$1[^/]+$2")
	return regexFullMatch(key, pattern)
}

// KeyMatch3 is KeyMatch2 with "{param}" placeholders.
func KeyMatch3(key, pattern string) bool {
	pattern = strings.ReplaceAll(pattern, "/*", "/.*")
	pattern = bracePattern.ReplaceAllString(pattern, "$1[^/]+$2")
	return regexFullMatch(key, pattern)
}

// KeyMatch4 is KeyMatch3 with the extra requirement that placeholders of
// the same name must capture the same value, e.g. "/x/{id}/y/{id}" only
// matches when both segments are equal.
func KeyMatch4(key, pattern string) bool {
	pattern = strings.ReplaceAll(pattern, "/*", "/.*")

	var names []string
	pattern = bracePattern.ReplaceAllStringFunc(pattern, func(m string) string {
		start := strings.Index(m, "{")
		names = append(names, m[start+1:len(m)-1])
		return m[:start] + "([^/]+)"
	})

	re, err := compile("^" + pattern + "$")
	if err != nil {
		return false
	}
	values := re.FindStringSubmatch(key)
	if values == nil {
		return false
	}
	seen := map[string]string{}
	for i, name := range names {
		v := values[i+1]
		if prev, ok := seen[name]; ok && prev != v {
			return false
		}
		seen[name] = v
	}
	return true
}

// KeyMatch5 strips the query string from the key before matching against a
// "{param}" pattern, e.g. "/foo/bar?x=1" matches "/foo/{id}".
func KeyMatch5(key, pattern string) bool {
	if i := strings.Index(key, "?"); i != -1 {
		key = key[:i]
	}
	pattern = strings.ReplaceAll(pattern, "/*", "/.*")
	pattern = bracePattern.ReplaceAllString(pattern, "$1[^/]+$2")
	return regexFullMatch(key, pattern)
}

// RegexMatch treats the pattern as a full-match regular expression.
func RegexMatch(key, pattern string) bool {
	return regexFullMatch(key, pattern)
}

// GlobMatch matches with path.Match semantics.
func GlobMatch(key, pattern string) (bool, error) {
	return path.Match(pattern, key)
}

// IPMatch matches an IP address against an address or CIDR block, e.g.
// "192.168.2.1" matches "192.168.2.0/24".
func IPMatch(ip, pattern string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if _, network, err := net.ParseCIDR(pattern); err == nil {
		return network.Contains(parsed)
	}
	other := net.ParseIP(pattern)
	return other != nil && parsed.Equal(other)
}

var (
	paramPattern = regexp.MustCompile(`(.*?):[^/]+(.*?)`)
	bracePattern = regexp.MustCompile(`(.*?)\{[^/]+?\}(.*?)`)

	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

// compile caches compiled patterns; matchers run once per policy row per
// request, so recompiling each time would dominate evaluation cost.
func compile(pattern string) (*regexp.Regexp, error) {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re, nil
}

func regexFullMatch(key, pattern string) bool {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	re, err := compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(key)
}
