package peer

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// recentFanout and zeroFanout bound the random peer subset an outbound
// gossip action reaches (spec.md §4.7).
const recentFanout = 7
const zeroFanout = 3

// Gossiper propagates accepted transactions, accepted blocks, and new
// peer announcements to a random subset of the registry.
type Gossiper struct {
	Registry *Registry
	Client   *Client
	Limiter  *rate.Limiter
}

// NewGossiper returns a Gossiper whose outbound requests are capped at
// ratePerSecond, bursting up to burst.
func NewGossiper(reg *Registry, client *Client, ratePerSecond float64, burst int) *Gossiper {
	return &Gossiper{Registry: reg, Client: client, Limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Propagate sends path+args to up to recentFanout recent peers and
// zeroFanout never-contacted peers, skipping ignoreURL and the
// gossiper's own URL. A transport failure keeps the peer and leaves its
// last-contact timestamp unchanged; a malformed response removes it.
func (g *Gossiper) Propagate(ctx context.Context, path string, args url.Values, ignoreURL string) {
	now := time.Now()
	targets := sample(g.Registry.Recent(now), recentFanout)
	targets = append(targets, sample(g.Registry.Zero(), zeroFanout)...)

	var wg sync.WaitGroup
	for _, target := range targets {
		if target == g.Client.SelfURL || target == ignoreURL {
			continue
		}
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Limiter.Wait(ctx); err != nil {
				return
			}
			g.send(ctx, target, path, args)
		}()
	}
	wg.Wait()
}

func (g *Gossiper) send(ctx context.Context, target, path string, args url.Values) {
	_, err := g.Client.Request(ctx, target, path, args, false)
	if err == nil {
		g.Registry.Touch(target, time.Now())
		return
	}
	var malformed *ErrMalformed
	if errors.As(err, &malformed) {
		g.Registry.Remove(target)
	}
	// ErrTransport (timeout/connection failure): leave the peer's
	// last-contact timestamp untouched rather than removing it.
}

// sample returns up to n distinct elements of items in random order.
func sample(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	shuffled := append([]string(nil), items...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}
