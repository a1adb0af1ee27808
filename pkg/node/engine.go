package node

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrchat/internal/telemetry"
	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
	"github.com/ryandielhenn/zephyrchat/pkg/history"
)

func (n *Node) registerHandlers() {
	n.disp.Handle(gossip.ActionLogin, n.onLogin)
	n.disp.Handle(gossip.ActionLogined, n.onLogined)
	n.disp.Handle(gossip.ActionNewNode, n.onNewNode)
	n.disp.Handle(gossip.ActionLogout, n.onLogout)
	n.disp.Handle(gossip.ActionConnect, n.onConnect)
	n.disp.Handle(gossip.ActionConnected, n.onConnected)
	n.disp.Handle(gossip.ActionRequestConnect, n.onRequestConnect)
	n.disp.Handle(gossip.ActionMessage, n.onMessage)
}

// ---- inbound ----

// onLogin runs on the rendezvous: announce the newcomer to everyone already
// known, register it, then hand it the roster.
func (n *Node) onLogin(ctx context.Context, m *gossip.Message, from netip.AddrPort) {
	if m.Name == "" {
		n.log.Warn("login without name", zap.Stringer("from", from))
		telemetry.Dropped("anonymous_login")
		return
	}
	newcomer := gossip.EndpointFrom(m.Name, from)

	for _, peer := range n.members.All() {
		if peer.Name == newcomer.Name {
			continue
		}
		_ = n.sendTo(ctx, peer, gossip.ActionNewNode, newcomer)
	}

	if n.members.Upsert(newcomer) {
		n.log.Info("peer joined", zap.String("peer", newcomer.Name), zap.Stringer("from", from))
		telemetry.Members.Set(float64(n.members.Len()))
	}

	roster := gossip.Roster{}
	for _, e := range n.members.All() {
		if e.Name != newcomer.Name {
			roster = append(roster, e)
		}
	}
	for _, part := range gossip.SplitRoster(roster, gossip.MaxRosterBytes) {
		_ = n.send(ctx, from, gossip.ActionLogined, part)
	}
}

func (n *Node) onLogined(_ context.Context, m *gossip.Message, from netip.AddrPort) {
	roster, _ := m.Payload.(gossip.Roster)
	added := 0
	for _, e := range roster {
		if n.members.Upsert(e) {
			added++
		}
	}
	telemetry.Members.Set(float64(n.members.Len()))

	n.mu.Lock()
	n.registered = true
	n.mu.Unlock()
	n.regOnce.Do(func() { close(n.regReady) })

	n.log.Info("logged in",
		zap.Stringer("rendezvous", from),
		zap.Int("roster", len(roster)),
		zap.Int("added", added))
}

func (n *Node) onNewNode(_ context.Context, m *gossip.Message, _ netip.AddrPort) {
	e, _ := m.Payload.(gossip.Endpoint)
	if n.members.Upsert(e) {
		n.log.Info("new node", zap.String("peer", e.Name), zap.String("addr", e.HostPort()))
		telemetry.Members.Set(float64(n.members.Len()))
	}
}

// onLogout is advisory; membership is never shrunk.
func (n *Node) onLogout(_ context.Context, m *gossip.Message, from netip.AddrPort) {
	n.log.Info("peer logged out", zap.String("peer", m.Name), zap.Stringer("from", from))
}

// onConnect relays a connection request: the requester learns the target's
// endpoint and the target learns the requester's.
func (n *Node) onConnect(ctx context.Context, m *gossip.Message, from netip.AddrPort) {
	if m.Name == "" {
		n.log.Warn("connect without name", zap.Stringer("from", from))
		telemetry.Dropped("anonymous_connect")
		return
	}
	req, _ := m.Payload.(gossip.ConnectRequest)
	if req.Name == "" {
		telemetry.Dropped("empty_target")
		return
	}
	target, ok := n.members.Find(req.Name)
	if !ok {
		n.log.Error("invalid address",
			zap.String("target", req.Name),
			zap.String("requester", m.Name),
			zap.Stringer("from", from))
		telemetry.Dropped("unknown_target")
		return
	}
	requester := gossip.EndpointFrom(m.Name, from)

	_ = n.send(ctx, from, gossip.ActionConnected, target)
	_ = n.sendTo(ctx, target, gossip.ActionConnected, requester)
}

func (n *Node) onConnected(_ context.Context, m *gossip.Message, _ netip.AddrPort) {
	e, _ := m.Payload.(gossip.Endpoint)
	n.setConnection(e)
}

// onRequestConnect is the rendezvous-free handshake. The first side to
// process an inbound request accepts and replies; a request from the peer
// we are already waiting on completes our own handshake without a reply.
func (n *Node) onRequestConnect(ctx context.Context, m *gossip.Message, from netip.AddrPort) {
	peer := gossip.EndpointFrom(m.Name, from)

	n.mu.Lock()
	pending := n.pending
	n.mu.Unlock()
	conn, connected := n.members.Connection()

	switch {
	case pending != nil && samePeer(*pending, peer):
		n.setConnection(peer)
	case connected && samePeer(conn, peer):
		n.log.Debug("duplicate requestConnect", zap.String("peer", peer.Name))
	case connected:
		n.log.Warn("requestConnect while connected to another peer",
			zap.String("peer", peer.Name),
			zap.String("connection", conn.Name))
		telemetry.Dropped("busy")
	case pending != nil:
		n.log.Warn("requestConnect while connecting to another peer",
			zap.String("peer", peer.Name),
			zap.String("pending", pending.Name))
		telemetry.Dropped("busy")
	default:
		n.setConnection(peer)
		_ = n.send(ctx, from, gossip.ActionRequestConnect, nil)
	}
}

func (n *Node) onMessage(ctx context.Context, m *gossip.Message, _ netip.AddrPort) {
	text, _ := m.Payload.(gossip.Text)
	line := history.Line{
		From:      m.Name,
		Text:      string(text),
		Timestamp: time.Unix(m.Timestamp, 0),
	}
	n.record(ctx, line)
	if n.onLine != nil {
		n.onLine(line)
	}
}

// ---- local operations ----

// Login announces this node to the rendezvous at addr.
func (n *Node) Login(ctx context.Context, addr netip.AddrPort) error {
	n.mu.Lock()
	n.rendezvous = addr
	n.mu.Unlock()
	return n.send(ctx, addr, gossip.ActionLogin, nil)
}

// Rendezvous returns the address passed to Login.
func (n *Node) Rendezvous() (netip.AddrPort, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rendezvous, n.rendezvous.IsValid()
}

// Connect asks for a chat connection with name: directly if gossip has
// delivered its endpoint, otherwise through the rendezvous.
func (n *Node) Connect(ctx context.Context, name string) error {
	if name == "" || name == n.name {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, name)
	}
	if e, ok := n.members.Find(name); ok {
		return n.RequestConnect(ctx, e)
	}
	return n.ConnectVia(ctx, name)
}

// ConnectVia sends connect{name} to the rendezvous, which answers both
// sides with connected.
func (n *Node) ConnectVia(ctx context.Context, name string) error {
	if name == "" || name == n.name {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, name)
	}
	rv, ok := n.Rendezvous()
	if !ok {
		return ErrNoRendezvous
	}
	n.setPending(gossip.Endpoint{Name: name})
	return n.send(ctx, rv, gossip.ActionConnect, gossip.ConnectRequest{Name: name})
}

// RequestConnect sends requestConnect straight to e.
func (n *Node) RequestConnect(ctx context.Context, e gossip.Endpoint) error {
	if e.Name == n.name {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, e.Name)
	}
	n.setPending(e)
	return n.sendTo(ctx, e, gossip.ActionRequestConnect, nil)
}

// Say sends a chat line to the current connection.
func (n *Node) Say(ctx context.Context, text string) error {
	conn, ok := n.members.Connection()
	if !ok {
		return ErrNotConnected
	}
	if err := n.sendTo(ctx, conn, gossip.ActionMessage, gossip.Text(text)); err != nil {
		return err
	}
	n.record(ctx, history.Line{From: n.name, Text: text, Timestamp: n.now().Truncate(time.Second), Outgoing: true})
	return nil
}

func (n *Node) broadcastLogout(ctx context.Context) {
	targets := make(map[netip.AddrPort]struct{})
	for _, e := range n.members.All() {
		if ap, err := resolveEndpoint(e); err == nil {
			targets[ap] = struct{}{}
		}
	}
	if rv, ok := n.Rendezvous(); ok {
		targets[rv] = struct{}{}
	}
	for ap := range targets {
		_ = n.send(ctx, ap, gossip.ActionLogout, nil)
	}
}

// ---- helpers ----

func (n *Node) setPending(e gossip.Endpoint) {
	n.mu.Lock()
	n.pending = &e
	n.mu.Unlock()
}

func (n *Node) setConnection(e gossip.Endpoint) {
	n.members.SetConnection(e)
	n.mu.Lock()
	n.pending = nil
	n.mu.Unlock()
	telemetry.Connected.Set(1)
	n.log.Info("connect with", zap.String("peer", e.Name), zap.String("addr", e.HostPort()))
}

func (n *Node) record(ctx context.Context, l history.Line) {
	n.hist.Append(l)
	if n.archive == nil {
		return
	}
	if err := n.archive.Record(ctx, l); err != nil {
		n.log.Warn("archive chat line", zap.Error(err))
	}
}

func (n *Node) sendTo(ctx context.Context, e gossip.Endpoint, a gossip.Action, p gossip.Payload) error {
	ap, err := resolveEndpoint(e)
	if err != nil {
		n.log.Warn("unresolvable endpoint", zap.String("peer", e.Name), zap.Error(err))
		telemetry.SendErrors.WithLabelValues(string(a)).Inc()
		return err
	}
	return n.send(ctx, ap, a, p)
}

// send stamps and transmits one message. Failures are logged and returned;
// they never stop the node.
func (n *Node) send(ctx context.Context, to netip.AddrPort, a gossip.Action, p gossip.Payload) error {
	b, err := gossip.Encode(&gossip.Message{
		Name:      n.name,
		Action:    a,
		Payload:   p,
		Timestamp: n.now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := n.tr.Send(ctx, to, b); err != nil {
		n.log.Warn("send failed", zap.String("action", string(a)), zap.Stringer("to", to), zap.Error(err))
		telemetry.SendErrors.WithLabelValues(string(a)).Inc()
		return err
	}
	telemetry.Outbound(string(a))
	return nil
}

func samePeer(a, b gossip.Endpoint) bool {
	if a.Name != "" && a.Name == b.Name {
		return true
	}
	return a.Address != "" && a.HostPort() == b.HostPort()
}
