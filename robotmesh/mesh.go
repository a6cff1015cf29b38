// Package robotmesh implements the Robot Peer Mesh and bully-style leader
// election of spec.md §4.3: mesh bootstrap over a known port range,
// GetMyInformation handshake, StartElection/LeaderSelected propagation, and
// EOF-triggered re-election.
//
// The actor shape follows the teacher's consumer.Resolver/Service split:
// one goroutine (Run) owns all mutable election state and processes events
// serially from a single channel, while connection-reading goroutines only
// ever push events onto that channel — never touch shared state directly.
// Every state transition is traced through addTrace, copied in idiom (not
// verbatim) from consumer/service.go's helper of the same name, so a
// golang.org/x/net/trace family page shows the blow-by-blow of an election
// exactly as gazette's does for shard resolution.
package robotmesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/Rpetey317/heladeria/wire"
)

// LeaderChangeFunc is invoked each time this robot receives a LeaderSelected
// announcement or elects itself, including repeated announcements of the
// leader it already knows, so the Robot Order Forwarder can close its
// currently-open screen sessions per spec.md §4.3 step 5.
type LeaderChangeFunc func(peerLeaderID, screenLeaderID uint32)

// Config parametrizes a Mesh.
type Config struct {
	PeerID     uint32 // this robot's peer_id; also the port it listens on for peers.
	ScreenPort uint32 // this robot's screen_port, advertised once elected.
	MinPort    uint32 // inclusive lower bound of the peer-port sweep range.
	MaxPort    uint32 // inclusive upper bound of the peer-port sweep range.

	DialTimeout time.Duration
	OnLeader    LeaderChangeFunc
}

type peerHandle struct {
	id   uint32
	conn *wire.Conn
}

type msgEvent struct {
	from uint32
	msg  interface{}
}

type peerDiedEvent struct{ id uint32 }

type bootstrapDoneEvent struct{}

// Mesh is one robot's view of its peers and the current election state.
type Mesh struct {
	cfg Config
	log *log.Entry

	events chan interface{}

	// outbound holds connections this robot dialed; only these are watched
	// for EOF-based failure detection, per spec.md §4.3.
	outbound map[uint32]*peerHandle
	// inbound holds connections peers dialed to us, used only for sending
	// replies back on the same socket a request arrived on.
	inbound map[uint32]*peerHandle

	haveLeader     bool
	peerLeaderID   uint32
	screenLeaderID uint32

	leaderMu sync.RWMutex

	listener net.Listener
}

// New constructs a Mesh. Call Bootstrap and ListenAndServe (normally both,
// concurrently) and then Run to drive it.
func New(cfg Config) *Mesh {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 500 * time.Millisecond
	}
	return &Mesh{
		cfg:      cfg,
		log:      log.WithFields(log.Fields{"component": "robotmesh.Mesh", "peer_id": cfg.PeerID}),
		events:   make(chan interface{}, 64),
		outbound: make(map[uint32]*peerHandle),
		inbound:  make(map[uint32]*peerHandle),
	}
}

// IsLeader reports whether this robot is currently the elected leader.
func (m *Mesh) IsLeader() bool {
	m.leaderMu.RLock()
	defer m.leaderMu.RUnlock()
	return m.haveLeader && m.peerLeaderID == m.cfg.PeerID
}

// CurrentScreenLeaderPort returns the screen-facing port of the current
// leader and whether one is known yet.
func (m *Mesh) CurrentScreenLeaderPort() (uint32, bool) {
	m.leaderMu.RLock()
	defer m.leaderMu.RUnlock()
	return m.screenLeaderID, m.haveLeader
}

// Bootstrap sweeps every port in [MinPort, MaxPort] other than our own
// peer_id, dialing each and registering any that answer. It returns once the
// sweep completes and election has been kicked off.
func (m *Mesh) Bootstrap(ctx context.Context) {
	var tr = trace.New("robotmesh.Mesh", "Bootstrap")
	defer tr.Finish()
	var ctx2 = trace.NewContext(ctx, tr)

	var wg sync.WaitGroup
	for port := m.cfg.MinPort; port <= m.cfg.MaxPort; port++ {
		if port == m.cfg.PeerID {
			continue
		}
		wg.Add(1)
		go func(port uint32) {
			defer wg.Done()
			m.dialPeer(ctx2, port)
		}(port)
	}
	wg.Wait()

	addTrace(ctx2, "bootstrap sweep of [%d,%d] complete, %d peers known", m.cfg.MinPort, m.cfg.MaxPort, len(m.outbound))
	m.events <- bootstrapDoneEvent{}
}

func (m *Mesh) dialPeer(ctx context.Context, port uint32) {
	var addr = fmt.Sprintf("127.0.0.1:%d", port)
	var dialer = net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		addTrace(ctx, "dial %s: %v", addr, err)
		return
	}

	var c = wire.NewConn(conn)
	if err := c.Send(wire.NewGetMyInformation(m.cfg.PeerID)); err != nil {
		m.log.WithError(err).WithField("peer", port).Warn("handshake send failed")
		c.Close()
		return
	}
	m.registerOutbound(port, c)
	go m.readLoop(c, port, true)
}

// ListenAndServe accepts inbound peer connections on PeerID until ctx is
// cancelled, then returns nil. It returns the error if binding or accepting
// fails for any other reason.
func (m *Mesh) ListenAndServe(ctx context.Context) error {
	var addr = fmt.Sprintf("127.0.0.1:%d", m.cfg.PeerID)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				m.log.WithError(err).Warn("accept failed")
				return err
			}
		}
		go m.handleInbound(conn)
	}
}

func (m *Mesh) handleInbound(conn net.Conn) {
	var c = wire.NewConn(conn)
	frame, err := c.ReadFrame()
	if err != nil {
		c.Close()
		return
	}
	msg, err := wire.DecodeRobotRequest(frame)
	if err != nil {
		m.log.WithError(err).Debug("malformed handshake frame, dropping connection")
		c.Close()
		return
	}
	hello, ok := msg.(wire.GetMyInformation)
	if !ok {
		m.log.Debug("first frame on inbound peer connection was not GetMyInformation, dropping")
		c.Close()
		return
	}
	var id = hello.GetMyInformation.RobotToRobotID
	m.registerInbound(id, c)
	m.readLoop(c, id, false)
}

func (m *Mesh) registerOutbound(id uint32, c *wire.Conn) {
	m.events <- registerEvent{id: id, conn: c, outbound: true}
}

func (m *Mesh) registerInbound(id uint32, c *wire.Conn) {
	m.events <- registerEvent{id: id, conn: c, outbound: false}
}

type registerEvent struct {
	id       uint32
	conn     *wire.Conn
	outbound bool
}

// readLoop decodes frames from c until it errors (including clean EOF),
// delivering each to the Run loop as a msgEvent. On EOF from an outbound
// connection, a peerDiedEvent is raised per spec.md §4.3's failure
// detection rule.
func (m *Mesh) readLoop(c *wire.Conn, peerID uint32, outbound bool) {
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if outbound {
				m.events <- peerDiedEvent{id: peerID}
			}
			return
		}
		msg, err := wire.DecodeRobotRequest(frame)
		if err != nil {
			m.log.WithError(err).WithField("peer", peerID).Debug("malformed peer frame, dropping")
			continue
		}
		m.events <- msgEvent{from: peerID, msg: msg}
	}
}

// Run drives the Mesh's event loop until ctx is cancelled.
func (m *Mesh) Run(ctx context.Context) {
	var tr = trace.New("robotmesh.Mesh", "Run")
	defer tr.Finish()
	var runCtx = trace.NewContext(ctx, tr)

	for {
		select {
		case ev := <-m.events:
			m.handleEvent(runCtx, ev)
		case <-ctx.Done():
			m.closeAll()
			return
		}
	}
}

// closeAll closes every tracked peer connection. Called only from Run's own
// goroutine on shutdown, so no additional locking is needed for the
// outbound/inbound maps. This mirrors what a killed process's OS would do
// to its open file descriptors, which is what spec.md §4.3's "kill 10002"
// scenario (S5) assumes triggers EOF on peers.
func (m *Mesh) closeAll() {
	for _, h := range m.outbound {
		h.conn.Close()
	}
	for _, h := range m.inbound {
		h.conn.Close()
	}
}

func (m *Mesh) handleEvent(ctx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case registerEvent:
		if e.outbound {
			m.outbound[e.id] = &peerHandle{id: e.id, conn: e.conn}
		} else {
			m.inbound[e.id] = &peerHandle{id: e.id, conn: e.conn}
		}
		addTrace(ctx, "registered %s peer %d", direction(e.outbound), e.id)
	case bootstrapDoneEvent:
		addTrace(ctx, "bootstrap done, starting initial election")
		m.startElection(ctx)
	case peerDiedEvent:
		addTrace(ctx, "peer %d connection EOF", e.id)
		delete(m.outbound, e.id)
		delete(m.inbound, e.id)
		m.leaderMu.RLock()
		var wasLeader = m.haveLeader && m.peerLeaderID == e.id
		m.leaderMu.RUnlock()
		if wasLeader {
			addTrace(ctx, " ... dead peer %d was the leader, re-electing", e.id)
			m.startElection(ctx)
		}
	case msgEvent:
		m.handleMessage(ctx, e.from, e.msg)
	}
}

func (m *Mesh) handleMessage(ctx context.Context, from uint32, msg interface{}) {
	switch t := msg.(type) {
	case wire.StartElection:
		addTrace(ctx, "StartElection from %d", from)
		m.startElection(ctx)
	case wire.LeaderSelected:
		var peerLeader, screenLeader = t.LeaderSelected.RobotToRobotLeaderID, t.LeaderSelected.RobotToScreenLeaderID
		addTrace(ctx, "LeaderSelected peer=%d screen_port=%d (from %d)", peerLeader, screenLeader, from)
		m.setLeader(peerLeader, screenLeader)
		if m.cfg.OnLeader != nil {
			m.cfg.OnLeader(peerLeader, screenLeader)
		}
	case wire.GetMyInformation:
		// Already consumed as the connection handshake; a repeat is ignored.
	}
}

// startElection implements spec.md §4.3 steps 2-3: look for a known peer
// with a higher id than ours; if one exists, ask it to take over, otherwise
// self-elect and broadcast.
func (m *Mesh) startElection(ctx context.Context) {
	var higher uint32
	var found bool
	for id := range m.outbound {
		if id > m.cfg.PeerID && (!found || id > higher) {
			higher, found = id, true
		}
	}
	for id := range m.inbound {
		if id > m.cfg.PeerID && (!found || id > higher) {
			higher, found = id, true
		}
	}

	if found {
		addTrace(ctx, "deferring election to higher peer %d", higher)
		m.sendTo(higher, wire.StartElection{})
		return
	}

	addTrace(ctx, "no higher peer known, self-electing")
	m.setLeader(m.cfg.PeerID, m.cfg.ScreenPort)
	var sel = wire.NewLeaderSelected(m.cfg.PeerID, m.cfg.ScreenPort)
	for id := range m.outbound {
		m.sendTo(id, sel)
	}
	for id := range m.inbound {
		m.sendTo(id, sel)
	}
	if m.cfg.OnLeader != nil {
		m.cfg.OnLeader(m.cfg.PeerID, m.cfg.ScreenPort)
	}
}

func (m *Mesh) sendTo(peerID uint32, v interface{}) {
	if h, ok := m.outbound[peerID]; ok {
		if err := h.conn.Send(v); err != nil {
			m.log.WithError(err).WithField("peer", peerID).Warn("send to outbound peer failed")
		}
		return
	}
	if h, ok := m.inbound[peerID]; ok {
		if err := h.conn.Send(v); err != nil {
			m.log.WithError(err).WithField("peer", peerID).Warn("send to inbound peer failed")
		}
		return
	}
	m.log.WithField("peer", peerID).Warn("sendTo unknown peer")
}

func (m *Mesh) setLeader(peerLeaderID, screenLeaderID uint32) {
	m.leaderMu.Lock()
	m.haveLeader = true
	m.peerLeaderID = peerLeaderID
	m.screenLeaderID = screenLeaderID
	m.leaderMu.Unlock()
}

func direction(outbound bool) string {
	if outbound {
		return "outbound"
	}
	return "inbound"
}

func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}
