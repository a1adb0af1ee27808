package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("gossip: transport closed")

// maxDatagram is the largest UDP payload we read.
const maxDatagram = 64 * 1024

// Packet is one inbound datagram.
type Packet struct {
	From    netip.AddrPort
	Payload []byte
}

// Transport moves datagrams. Delivery is best effort and unordered.
type Transport interface {
	Send(ctx context.Context, to netip.AddrPort, b []byte) error
	Consume() <-chan Packet
	LocalAddr() netip.AddrPort
	Close() error
}

// UDPTransportOpts configures a UDPTransport.
type UDPTransportOpts struct {
	ListenAddr string // e.g. ":1099"
	QueueSize  int    // inbound packets buffered before the reader blocks
	Logger     *zap.Logger
}

// UDPTransport is a Transport over a single udp4 socket.
type UDPTransport struct {
	conn   *net.UDPConn
	rpcch  chan Packet
	log    *zap.Logger
	closed chan struct{}
	once   sync.Once
}

// ListenUDP binds the socket and starts the read loop.
func ListenUDP(opts UDPTransportOpts) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", opts.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", opts.ListenAddr, err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	t := &UDPTransport{
		conn:   conn,
		rpcch:  make(chan Packet, opts.QueueSize),
		log:    opts.Logger,
		closed: make(chan struct{}),
	}
	go t.readLoop()
	t.log.Info("udp transport listening", zap.Stringer("addr", t.LocalAddr()))
	return t, nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.rpcch)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			t.log.Warn("udp read", zap.Error(err))
			continue
		}
		p := Packet{
			From:    netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Payload: append([]byte(nil), buf[:n]...),
		}
		select {
		case t.rpcch <- p:
		case <-t.closed:
			return
		}
	}
}

// Send writes b to to. Errors are returned to the caller; UDP sends can
// fail transiently and the caller decides whether that matters.
func (t *UDPTransport) Send(ctx context.Context, to netip.AddrPort, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if _, err := t.conn.WriteToUDPAddrPort(b, to); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Consume returns inbound packets. The channel is closed after Close.
func (t *UDPTransport) Consume() <-chan Packet { return t.rpcch }

func (t *UDPTransport) LocalAddr() netip.AddrPort {
	ap := t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (t *UDPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// MemNetwork is an in-process datagram fabric for tests. Packets to an
// address nobody listens on are dropped, as with UDP.
type MemNetwork struct {
	mu    sync.RWMutex
	nodes map[netip.AddrPort]*MemTransport
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{nodes: make(map[netip.AddrPort]*MemTransport)}
}

// Listen attaches a transport at addr.
func (n *MemNetwork) Listen(addr netip.AddrPort) (*MemTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[addr]; ok {
		return nil, fmt.Errorf("bind %s: address in use", addr)
	}
	t := &MemTransport{net: n, addr: addr, inbox: make(chan Packet, 256)}
	n.nodes[addr] = t
	return t, nil
}

// MustListen is Listen for test setup.
func (n *MemNetwork) MustListen(addr string) *MemTransport {
	t, err := n.Listen(netip.MustParseAddrPort(addr))
	if err != nil {
		panic(err)
	}
	return t
}

// MemTransport is one endpoint on a MemNetwork.
type MemTransport struct {
	net  *MemNetwork
	addr netip.AddrPort

	mu     sync.Mutex
	inbox  chan Packet
	closed bool
}

func (t *MemTransport) Send(ctx context.Context, to netip.AddrPort, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.net.mu.RLock()
	dst, ok := t.net.nodes[to]
	t.net.mu.RUnlock()
	if !ok {
		return nil
	}
	dst.deliver(Packet{From: t.addr, Payload: append([]byte(nil), b...)})
	return nil
}

func (t *MemTransport) deliver(p Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.inbox <- p:
	default: // full queue drops, like a socket buffer
	}
}

func (t *MemTransport) Consume() <-chan Packet { return t.inbox }

func (t *MemTransport) LocalAddr() netip.AddrPort { return t.addr }

func (t *MemTransport) Close() error {
	t.net.mu.Lock()
	delete(t.net.nodes, t.addr)
	t.net.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	return nil
}
