package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"score-render/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring, so a session
// key keeps reaching the host that holds its loaded score while the host set is
// stable.
//
// Each real instance is placed on the ring as N virtual nodes to keep the load
// even.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int                           // Virtual nodes per real instance
	ring     []uint32                      // Sorted hash values on the ring
	nodes    map[uint32]*registry.Instance // Hash value → instance
	members  string                        // Signature of the instance set the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Instance),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(instance registry.Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(&instance)
	b.sort()
	b.members = ""
}

// Set rebuilds the ring from a discovered instance list.
func (b *ConsistentHashBalancer) Set(instances []registry.Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)
}

func (b *ConsistentHashBalancer) rebuild(instances []registry.Instance) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.Instance, len(instances)*b.replicas)
	for i := range instances {
		inst := instances[i]
		b.add(&inst)
	}
	b.sort()
	b.members = signature(instances)
}

func (b *ConsistentHashBalancer) add(instance *registry.Instance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

func (b *ConsistentHashBalancer) sort() {
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick finds the instance responsible for key. When instances differs from the
// set the ring was built from, the ring is rebuilt first; a nil list uses the
// current ring.
func (b *ConsistentHashBalancer) Pick(instances []registry.Instance, key string) (*registry.Instance, error) {
	if instances != nil {
		sig := signature(instances)
		b.mu.RLock()
		stale := sig != b.members
		b.mu.RUnlock()
		if stale {
			b.mu.Lock()
			if sig != b.members {
				b.rebuild(instances)
			}
			b.mu.Unlock()
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Wrap around past the last node
	if idx == len(b.ring) {
		idx = 0
	}
	inst := *b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func signature(instances []registry.Instance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}
