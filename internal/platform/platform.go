// Package platform holds the publishing targets a post can go to and the
// generation provider the stages call.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Client publishes content to one platform and answers whether a published
// item still exists there.
type Client interface {
	Name() string
	Publish(ctx context.Context, content string) (platformID string, err error)
	Exists(ctx context.Context, platformID string) (bool, error)
}

// HealthChecker is implemented by clients that can test their credentials.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// StatusError is a non-success HTTP reply from a platform.
type StatusError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// IsTransient reports whether retrying err may succeed. Only 4xx replies
// other than 429 and caller cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	// network failures and per-call timeouts
	return true
}

type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: map[string]Client{}}
	for _, c := range clients {
		if c != nil {
			r.clients[c.Name()] = c
		}
	}
	return r
}

func (r *Registry) Get(name string) (Client, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.clients[name]
	return c, ok
}

// Names returns the configured platform names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) HealthCheckers() map[string]HealthChecker {
	out := map[string]HealthChecker{}
	if r == nil {
		return out
	}
	for name, c := range r.clients {
		if hc, ok := c.(HealthChecker); ok {
			out[name] = hc
		}
	}
	return out
}
