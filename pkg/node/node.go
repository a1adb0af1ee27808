package node

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrchat/internal/telemetry"
	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
	"github.com/ryandielhenn/zephyrchat/pkg/history"
)

var (
	ErrNotConnected  = errors.New("node: no chat connection")
	ErrNoRendezvous  = errors.New("node: not logged in to a rendezvous")
	ErrUnknownPeer   = errors.New("node: unknown peer")
	ErrInvalidTarget = errors.New("node: invalid connect target")
	ErrClosed        = errors.New("node: closed")
)

// State is where a node is in the registration/handshake sequence.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Options configures a Node. Name and Transport are required.
type Options struct {
	Name      string
	Transport gossip.Transport
	Logger    *zap.Logger

	// History receives every chat line; defaults to a 1 MiB store.
	History *history.Store
	// Archive, if set, also persists chat lines.
	Archive history.Archive
	// OnMessage is called for each inbound chat line, on the receive loop.
	OnMessage func(history.Line)

	Now func() time.Time
}

// Node is one participant: its identity, its view of the network, the
// transport it speaks on and the protocol engine driving them. Every
// inbound datagram is handled on a single receive goroutine.
type Node struct {
	name    string
	tr      gossip.Transport
	members *gossip.MemberList
	seen    *gossip.Liveness
	disp    *gossip.Dispatcher
	log     *zap.Logger

	hist    *history.Store
	archive history.Archive
	onLine  func(history.Line)
	now     func() time.Time

	mu         sync.Mutex
	rendezvous netip.AddrPort
	pending    *gossip.Endpoint
	registered bool
	regReady   chan struct{}
	regOnce    sync.Once

	cancel    context.CancelFunc
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options) (*Node, error) {
	if opts.Name == "" {
		return nil, errors.New("node: name is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("node: transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.History == nil {
		opts.History = history.NewStore(1<<20, 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Logger.Named("node").With(zap.String("self", opts.Name))
	n := &Node{
		name:     opts.Name,
		tr:       opts.Transport,
		members:  gossip.NewMemberList(opts.Name),
		seen:     gossip.NewLiveness(),
		disp:     gossip.NewDispatcher(opts.Logger.Named("gossip.dispatcher")),
		log:      log,
		hist:     opts.History,
		archive:  opts.Archive,
		onLine:   opts.OnMessage,
		now:      opts.Now,
		regReady: make(chan struct{}),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	n.registerHandlers()
	return n, nil
}

// Start runs the receive loop until Close or ctx is done.
func (n *Node) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	go n.loop(ctx)
}

func (n *Node) loop(ctx context.Context) {
	defer close(n.done)
	in := n.tr.Consume()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			n.handlePacket(ctx, p)
		}
	}
}

func (n *Node) handlePacket(ctx context.Context, p gossip.Packet) {
	m, err := gossip.Decode(p.Payload)
	if err != nil {
		n.log.Debug("drop malformed datagram", zap.Stringer("from", p.From), zap.Error(err))
		telemetry.Dropped("malformed")
		return
	}

	label := string(m.Action)
	if !m.Action.Known() {
		label = "unknown"
	}
	telemetry.Inbound(label)
	n.seen.Observe(m.Name, n.now())

	if !n.disp.Route(ctx, m, p.From) {
		telemetry.Dropped("unknown_action")
	}
}

// Close sends a best-effort logout to every known peer if this node ever
// registered, then stops the receive loop and closes the transport.
func (n *Node) Close(ctx context.Context) error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		registered := n.registered
		n.mu.Unlock()
		if registered {
			n.broadcastLogout(ctx)
		}

		close(n.closed)
		if n.cancel != nil {
			n.cancel()
		}
		err = n.tr.Close()
		if n.cancel != nil {
			select {
			case <-n.done:
			case <-ctx.Done():
			}
		}
	})
	return err
}

// State reports the node's position in the protocol state machine.
func (n *Node) State() State {
	if _, ok := n.members.Connection(); ok {
		return StateConnected
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.pending != nil:
		return StateConnecting
	case n.registered:
		return StateRegistered
	case n.rendezvous.IsValid():
		return StateRegistering
	default:
		return StateUnregistered
	}
}

func (n *Node) Name() string                { return n.name }
func (n *Node) Addr() netip.AddrPort        { return n.tr.LocalAddr() }
func (n *Node) Members() *gossip.MemberList { return n.members }
func (n *Node) Liveness() *gossip.Liveness  { return n.seen }
func (n *Node) History() *history.Store     { return n.hist }

// Connection returns the active chat peer, if any.
func (n *Node) Connection() (gossip.Endpoint, bool) { return n.members.Connection() }

// WaitForConnection blocks until a chat connection exists, ctx is done, or
// the node is closed.
func (n *Node) WaitForConnection(ctx context.Context) (gossip.Endpoint, error) {
	ctx, cancel := n.bind(ctx)
	defer cancel()
	e, err := n.members.WaitForConnection(ctx)
	if err != nil && n.isClosed() {
		return e, ErrClosed
	}
	return e, err
}

// WaitForRegistration blocks until a logined reply has been applied.
func (n *Node) WaitForRegistration(ctx context.Context) error {
	select {
	case <-n.regReady:
		return nil
	case <-n.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bind returns a context that is also cancelled when the node closes.
func (n *Node) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-n.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (n *Node) isClosed() bool {
	select {
	case <-n.closed:
		return true
	default:
		return false
	}
}
