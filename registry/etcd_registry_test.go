package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints returns the endpoints from SCORE_RENDER_ETCD, skipping the test
// when no etcd is configured.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("SCORE_RENDER_ETCD")
	if env == "" {
		t.Skip("SCORE_RENDER_ETCD not set; skipping etcd registry test")
	}
	return strings.Split(env, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	service := "RendererTest"
	inst1 := NewInstance("127.0.0.1:8001", 10, "4.3.1")
	inst2 := NewInstance("127.0.0.1:8002", 5, "4.3.1")

	if err := reg.Register(ctx, service, inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, service, inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, service, inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr || instances[0].ID != inst2.ID {
		t.Fatalf("expect %+v, got %+v", inst2, instances[0])
	}

	reg.Deregister(ctx, service, inst2.Addr)
}
