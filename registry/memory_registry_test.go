package registry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(ServiceName, NewInstance("127.0.0.1:8002", 1, "v"))

	if err := reg.Register(ctx, ServiceName, NewInstance("127.0.0.1:8001", 1, "v"), 10); err != nil {
		t.Fatal(err)
	}

	instances, _ := reg.Discover(ctx, ServiceName)
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}
	if instances[0].Addr != "127.0.0.1:8001" {
		t.Fatalf("instances should be sorted by addr, got %v", instances)
	}

	reg.Deregister(ctx, ServiceName, "127.0.0.1:8001")
	instances, _ = reg.Discover(ctx, ServiceName)
	if len(instances) != 1 || instances[0].Addr != "127.0.0.1:8002" {
		t.Fatalf("unexpected instances after deregister: %v", instances)
	}

	if other, _ := reg.Discover(ctx, "Other"); len(other) != 0 {
		t.Fatalf("unknown service should be empty, got %v", other)
	}
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewMemoryRegistry(ServiceName)
	ch := reg.Watch(ctx, ServiceName)

	reg.Register(ctx, ServiceName, NewInstance("a:1", 1, "v"), 10)
	reg.Register(ctx, ServiceName, NewInstance("b:1", 1, "v"), 10)

	select {
	case instances := <-ch:
		// Only the latest list is kept for a slow watcher
		if len(instances) != 2 {
			t.Fatalf("expect latest list of 2, got %v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expect closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
