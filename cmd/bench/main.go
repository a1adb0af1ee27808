package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zephyrchat/internal/config"
	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
	"github.com/ryandielhenn/zephyrchat/pkg/node"
)

// bench logs n synthetic peers in to a rendezvous and times the logined
// replies. Every peer gets its own socket so the rendezvous sees n
// distinct endpoints.
func main() {
	addr := flag.String("addr", "127.0.0.1:1099", "rendezvous address (host:port or multiaddr)")
	n := flag.Int("n", 500, "peers to log in")
	conc := flag.Int("c", 32, "concurrency")
	prefix := flag.String("prefix", "bench", "peer name prefix")
	timeout := flag.Duration("timeout", 2*time.Second, "per-login reply timeout")
	flag.Parse()

	rv, err := node.ParseEndpoint(*addr, config.DefaultPort)
	if err != nil {
		fmt.Println(err)
		return
	}
	run := time.Now().UnixNano()

	var (
		wg       sync.WaitGroup
		mu        sync.Mutex
		lat       []time.Duration
		failed    atomic.Int64
		maxRoster atomic.Int64
	)
	ch := make(chan struct{}, *conc)
	start := time.Now()

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()

			name := fmt.Sprintf("%s-%d-%d", *prefix, run, i)
			d, roster, err := login(rv, name, *timeout)
			if err != nil {
				failed.Add(1)
				return
			}
			mu.Lock()
			lat = append(lat, d)
			mu.Unlock()
			for {
				cur := maxRoster.Load()
				if int64(roster) <= cur || maxRoster.CompareAndSwap(cur, int64(roster)) {
					break
				}
			}
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)

	ok := len(lat)
	fmt.Printf("Completed %d logins (%d failed) in %s (%.2f logins/s)\n", ok, failed.Load(), dur, float64(ok)/dur.Seconds())
	if ok > 0 {
		sort.Slice(lat, func(a, b int) bool { return lat[a] < lat[b] })
		fmt.Printf("latency p50=%s p99=%s max=%s; largest roster %d\n",
			lat[ok/2], lat[(ok*99)/100], lat[ok-1], maxRoster.Load())
	}
}

func login(rv netip.AddrPort, name string, timeout time.Duration) (time.Duration, int, error) {
	tr, err := gossip.ListenUDP(gossip.UDPTransportOpts{ListenAddr: "0.0.0.0:0", QueueSize: 16})
	if err != nil {
		return 0, 0, err
	}
	defer tr.Close()

	b, err := gossip.Encode(&gossip.Message{Name: name, Action: gossip.ActionLogin, Timestamp: time.Now().Unix()})
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sent := time.Now()
	if err := tr.Send(ctx, rv, b); err != nil {
		return 0, 0, err
	}
	for {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case p, ok := <-tr.Consume():
			if !ok {
				return 0, 0, gossip.ErrClosed
			}
			m, err := gossip.Decode(p.Payload)
			if err != nil || m.Action != gossip.ActionLogined {
				continue
			}
			roster, _ := m.Payload.(gossip.Roster)
			return time.Since(sent), len(roster), nil
		}
	}
}
