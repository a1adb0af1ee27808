// Package gossip implements the zephyrchat wire protocol and the state a
// node keeps about its peers. It defines the JSON message envelope and its
// payload union, a first-seen-wins member list holding the node's single
// chat connection, a dispatcher keyed by action, and a Transport
// abstraction with a UDP implementation and an in-process MemNetwork for
// tests.
//
// Typical usage:
//
//	t, _ := gossip.ListenUDP(gossip.UDPTransportOpts{ListenAddr: ":1099"})
//	d := gossip.NewDispatcher(log)
//	d.Handle(gossip.ActionNewNode, onNewNode)
//	for p := range t.Consume() {
//		m, err := gossip.Decode(p.Payload)
//		if err != nil {
//			continue // malformed datagrams are dropped
//		}
//		d.Route(ctx, m, p.From)
//	}
//
// Nothing here retries: UDP may drop or reorder any datagram, and the
// protocol tolerates reordering only because gossip upserts are idempotent.
package gossip
