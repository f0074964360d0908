// Package peer implements node discovery, gossip fan-out, and chain
// synchronization against remote nodes (spec.md §4.7).
package peer

import (
	"sync"
	"time"
)

// MaxNodes caps the registry size; entries beyond the cap are not added.
const MaxNodes = 100

// recentWindow is how recently a node must have been contacted to count
// as "recent" rather than "zero" for gossip fan-out purposes.
const recentWindow = 7 * 24 * time.Hour

// pruneAfter is how long a node may go without contact before Prune
// removes it.
const pruneAfter = 90 * 24 * time.Hour

// Registry tracks known peer URLs and the last time each was
// successfully contacted. The zero time.Time means "never contacted".
type Registry struct {
	mu    sync.Mutex
	nodes map[string]time.Time
}

// NewRegistry returns an empty registry, optionally seeded with bootstrap
// URLs (contacted-never, so they count as "zero" until first gossip).
func NewRegistry(bootstrap ...string) *Registry {
	r := &Registry{nodes: make(map[string]time.Time)}
	for _, u := range bootstrap {
		r.Add(u)
	}
	return r
}

// Add registers url if the registry has room and it is not already known.
func (r *Registry) Add(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[url]; ok {
		return false
	}
	if len(r.nodes) >= MaxNodes {
		return false
	}
	r.nodes[url] = time.Time{}
	return true
}

// Touch records a successful contact with url at t.
func (r *Registry) Touch(url string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[url]; !ok {
		if len(r.nodes) >= MaxNodes {
			return
		}
	}
	r.nodes[url] = t
}

// Remove drops url from the registry entirely (spec.md §7: PeerError
// removes a node only on explicit parse failure, never on timeout).
func (r *Registry) Remove(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, url)
}

// Prune removes every node whose last contact is older than pruneAfter
// relative to now. Never-contacted nodes carry no timestamp and are
// never pruned.
func (r *Registry) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, last := range r.nodes {
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > pruneAfter {
			delete(r.nodes, url)
		}
	}
}

// Recent returns every node contacted within recentWindow of now.
func (r *Registry) Recent(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for url, last := range r.nodes {
		if !last.IsZero() && now.Sub(last) <= recentWindow {
			out = append(out, url)
		}
	}
	return out
}

// Zero returns every node that has never been successfully contacted.
func (r *Registry) Zero() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for url, last := range r.nodes {
		if last.IsZero() {
			out = append(out, url)
		}
	}
	return out
}

// All returns every known node URL.
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.nodes))
	for url := range r.nodes {
		out = append(out, url)
	}
	return out
}
