// Package registry is the worker phonebook: hosts announce themselves under a
// service name and clients discover and watch them.
package registry

import (
	"context"

	"github.com/google/uuid"
)

// ServiceName is the name worker hosts register under.
const ServiceName = "Renderer"

// Instance describes one worker host.
type Instance struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version"` // Toolkit version the host loads
}

// NewInstance returns an instance with a fresh random ID.
func NewInstance(addr string, weight int, version string) Instance {
	return Instance{ID: uuid.NewString(), Addr: addr, Weight: weight, Version: version}
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]Instance, error)
	Watch(ctx context.Context, serviceName string) <-chan []Instance
}
