package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps instances in process. It backs static host lists from the
// config file and tests; TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Instance // service → addr → instance
	watchers map[string][]chan []Instance
}

// NewMemoryRegistry creates a registry preloaded with instances for serviceName.
func NewMemoryRegistry(serviceName string, instances ...Instance) *MemoryRegistry {
	r := &MemoryRegistry{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
	for _, inst := range instances {
		r.put(serviceName, inst)
	}
	return r
}

func (r *MemoryRegistry) put(serviceName string, instance Instance) {
	if r.services[serviceName] == nil {
		r.services[serviceName] = make(map[string]Instance)
	}
	r.services[serviceName][instance.Addr] = instance
}

func (r *MemoryRegistry) Register(ctx context.Context, serviceName string, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(serviceName, instance)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(serviceName), nil
}

// Watch emits the full instance list after every change until ctx ends.
// A slow watcher only ever sees the latest list.
func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				r.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list returns instances sorted by address. Caller holds mu.
func (r *MemoryRegistry) list(serviceName string) []Instance {
	instances := make([]Instance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notify pushes the current list to every watcher. Caller holds mu.
func (r *MemoryRegistry) notify(serviceName string) {
	instances := r.list(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
