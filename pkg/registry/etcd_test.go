package registry

import (
	"errors"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestKey(t *testing.T) {
	if got := Key("r1"); got != "/zephyrchat/rendezvous/r1" {
		t.Fatalf("Key = %q", got)
	}
}

func TestFromKVs(t *testing.T) {
	kvs := []*mvccpb.KeyValue{
		{Key: []byte(Key("r1")), Value: []byte("10.0.0.1:1099")},
		{Key: []byte(Key("r2")), Value: []byte("10.0.0.2:1099")},
		{Key: []byte(Prefix), Value: []byte("ignored")},
	}
	got := fromKVs(kvs)
	if len(got) != 2 || got["r1"] != "10.0.0.1:1099" || got["r2"] != "10.0.0.2:1099" {
		t.Fatalf("fromKVs = %v", got)
	}
}

func TestApply(t *testing.T) {
	cur := map[string]string{"r1": "10.0.0.1:1099"}

	apply(cur, &clientv3.Event{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Key: []byte(Key("r2")), Value: []byte("10.0.0.2:1099")}})
	if cur["r2"] != "10.0.0.2:1099" {
		t.Fatalf("PUT not applied: %v", cur)
	}

	apply(cur, &clientv3.Event{Type: mvccpb.DELETE, Kv: &mvccpb.KeyValue{Key: []byte(Key("r1"))}})
	if _, ok := cur["r1"]; ok {
		t.Fatalf("DELETE not applied: %v", cur)
	}
}

func TestPick(t *testing.T) {
	all := map[string]string{"b": "10.0.0.2:1099", "a": "10.0.0.1:1099", "c": "10.0.0.3:1099"}

	if got, _ := pick(all, "c"); got != "10.0.0.3:1099" {
		t.Fatalf("pick preferred = %q", got)
	}
	if got, _ := pick(all, ""); got != "10.0.0.1:1099" {
		t.Fatalf("pick default = %q, want lexically first", got)
	}
	if got, _ := pick(all, "missing"); got != "10.0.0.1:1099" {
		t.Fatalf("pick fallback = %q", got)
	}
	if _, err := pick(map[string]string{}, "a"); !errors.Is(err, ErrNoRendezvous) {
		t.Fatalf("pick empty err = %v", err)
	}
}

func TestCopyMap(t *testing.T) {
	src := map[string]string{"a": "1"}
	dst := copyMap(src)
	dst["a"] = "2"
	if src["a"] != "1" {
		t.Fatal("copyMap shares storage")
	}
}
