package cache

import (
	"regexp"
	"strings"
	"sync"
)

// subscriptionKind distinguishes the two uses of a pattern.
type subscriptionKind int

const (
	kindInvalidation subscriptionKind = iota
	kindPrefetch
)

// subscription associates a pattern with its member keys. Invalidation
// subscriptions track keys to remove as a group; prefetch subscriptions
// additionally carry the related keys warmed when a member is read.
type subscription struct {
	kind    subscriptionKind
	matcher *regexp.Regexp // nil when the pattern has no wildcards
	keys    map[string]struct{}
	related []string
}

// registry maps pattern strings to subscriptions. The matcher for a
// wildcard pattern is compiled once at registration, never per access.
type registry struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*subscription)}
}

// hasWildcard reports whether pattern uses glob syntax.
func hasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// compilePattern translates a glob pattern (* and ?) into an anchored
// regular expression.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// ensureLocked returns the subscription for pattern, creating it with the
// given kind and compiling the matcher on first registration.
func (r *registry) ensureLocked(pattern string, kind subscriptionKind) *subscription {
	sub, ok := r.subs[pattern]
	if ok {
		return sub
	}
	sub = &subscription{kind: kind, keys: make(map[string]struct{})}
	if hasWildcard(pattern) {
		if m, err := compilePattern(pattern); err == nil {
			sub.matcher = m
		}
	}
	r.subs[pattern] = sub
	return sub
}

// registerInvalidation adds key to the pattern's invalidation set.
func (r *registry) registerInvalidation(pattern, key string) {
	r.mu.Lock()
	sub := r.ensureLocked(pattern, kindInvalidation)
	sub.keys[key] = struct{}{}
	r.mu.Unlock()
}

// registerPrefetch adds key to the pattern's member set and records the
// related keys warmed when a member is read.
func (r *registry) registerPrefetch(pattern, key string, related []string) {
	r.mu.Lock()
	sub := r.ensureLocked(pattern, kindPrefetch)
	sub.kind = kindPrefetch
	sub.keys[key] = struct{}{}
	for _, rel := range related {
		if rel == key {
			continue
		}
		found := false
		for _, existing := range sub.related {
			if existing == rel {
				found = true
				break
			}
		}
		if !found {
			sub.related = append(sub.related, rel)
		}
	}
	r.mu.Unlock()
}

// prefetchTargets returns the related keys for every prefetch subscription
// key belongs to.
func (r *registry) prefetchTargets(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []string
	for _, sub := range r.subs {
		if sub.kind != kindPrefetch {
			continue
		}
		if _, ok := sub.keys[key]; !ok {
			continue
		}
		for _, rel := range sub.related {
			if rel != key {
				targets = append(targets, rel)
			}
		}
	}
	return targets
}

// take returns the registered keys and compiled matcher for pattern,
// clearing the key set. The subscription itself stays registered so later
// sets reuse it. For patterns never registered, a matcher is compiled on
// the spot when the pattern has wildcards.
func (r *registry) take(pattern string) ([]string, *regexp.Regexp) {
	r.mu.Lock()
	sub, ok := r.subs[pattern]
	if ok {
		keys := make([]string, 0, len(sub.keys))
		for key := range sub.keys {
			keys = append(keys, key)
		}
		sub.keys = make(map[string]struct{})
		matcher := sub.matcher
		r.mu.Unlock()
		return keys, matcher
	}
	r.mu.Unlock()
	if hasWildcard(pattern) {
		if m, err := compilePattern(pattern); err == nil {
			return nil, m
		}
	}
	return nil, nil
}

// forget removes key from every subscription. Called on explicit delete so
// invalidation sets do not accumulate dead keys.
func (r *registry) forget(key string) {
	r.mu.Lock()
	for _, sub := range r.subs {
		delete(sub.keys, key)
	}
	r.mu.Unlock()
}

// flush drops every subscription.
func (r *registry) flush() {
	r.mu.Lock()
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()
}
