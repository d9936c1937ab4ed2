// Package loadbalance picks the worker host a call (or a session) goes to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal hosts, one-shot calls
//   - WeightedRandom:  hosts with different capacity
//   - ConsistentHash:  sessions, so a session key keeps landing on the same host
package loadbalance

import (
	"errors"
	"fmt"

	"score-render/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance. key is the session key; strategies without
	// affinity ignore it. Must be goroutine-safe.
	Pick(instances []registry.Instance, key string) (*registry.Instance, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
