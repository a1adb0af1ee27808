// Package registry publishes rendezvous endpoints in etcd so nodes can find
// an entry point without being told its address.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Prefix is where rendezvous endpoints live: Prefix + name -> "host:port".
const Prefix = "/zephyrchat/rendezvous/"

var ErrNoRendezvous = errors.New("registry: no rendezvous registered")

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Key returns the etcd key for the rendezvous called name.
func Key(name string) string {
	return Prefix + name
}

// RegisterRendezvous stores addr under name with a lease of ttl seconds and
// keeps the lease alive until cancel is called.
func RegisterRendezvous(cli *clientv3.Client, name, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(context.TODO(), ttl)
	if err != nil {
		return 0, nil, err
	}
	if _, err := cli.Put(context.TODO(), Key(name), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, err
	}
	go func() {
		for range ch {
		}
	}()

	return lease.ID, cancel, nil
}

// Rendezvous lists every registered rendezvous as name -> "host:port".
func Rendezvous(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list rendezvous: %w", err)
	}
	return fromKVs(resp.Kvs), nil
}

// Lookup picks a registered rendezvous, preferring name when it is set.
// Without a preference the lexically first name wins so that every node
// asking at the same time lands on the same entry point.
func Lookup(ctx context.Context, cli *clientv3.Client, name string) (string, error) {
	all, err := Rendezvous(ctx, cli)
	if err != nil {
		return "", err
	}
	return pick(all, name)
}

// WatchRendezvous calls fn with the full set after every change.
func WatchRendezvous(ctx context.Context, cli *clientv3.Client, fn func(map[string]string)) error {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	current := fromKVs(resp.Kvs)
	fn(copyMap(current))

	wch := cli.Watch(ctx, Prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go func() {
		for wr := range wch {
			for _, ev := range wr.Events {
				apply(current, ev)
			}
			fn(copyMap(current))
		}
	}()
	return nil
}

func apply(current map[string]string, ev *clientv3.Event) {
	name := strings.TrimPrefix(string(ev.Kv.Key), Prefix)
	switch ev.Type {
	case mvccpb.PUT:
		current[name] = string(ev.Kv.Value)
	case mvccpb.DELETE:
		delete(current, name)
	}
}

func fromKVs(kvs []*mvccpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		name := strings.TrimPrefix(string(kv.Key), Prefix)
		if name == "" {
			continue
		}
		out[name] = string(kv.Value)
	}
	return out
}

func pick(all map[string]string, prefer string) (string, error) {
	if prefer != "" {
		if addr, ok := all[prefer]; ok {
			return addr, nil
		}
	}
	if len(all) == 0 {
		return "", ErrNoRendezvous
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return all[names[0]], nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
