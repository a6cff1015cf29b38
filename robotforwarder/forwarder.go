// Package robotforwarder implements the Robot Order Forwarder of
// spec.md §4.4: the screen-facing side of a robot, bridging screen TCP
// sessions to the shop connection and routing OrderResults back only when
// this robot is the current leader.
//
// Like robotmesh.Mesh, screen session state is owned by a single event-loop
// goroutine fed by a channel — the same "owned exclusively by their
// respective mesh/forwarder actor" discipline spec.md §5 calls for.
package robotforwarder

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Rpetey317/heladeria/wire"
)

// LeaderChecker reports this robot's election status, satisfied by
// *robotmesh.Mesh.
type LeaderChecker interface {
	IsLeader() bool
	CurrentScreenLeaderPort() (uint32, bool)
}

// Config parametrizes a Forwarder.
type Config struct {
	ScreenPort    uint32
	ShopAddr      string
	ShopDialRetry time.Duration // backoff between shop dial attempts; default 2s.
	Leader        LeaderChecker
}

type screenConnectedEvent struct {
	addr string
	conn *wire.Conn
}
type screenDisconnectedEvent struct{ addr string }
type screenAskLeaderEvent struct{ addr string }
type screenOrderEvent struct {
	addr  string
	order wire.ScreenOrder
}
type shopResultEvent struct{ result wire.OrderResult }
type shopDownEvent struct{}

// Forwarder is the screen-facing half of one robot process.
type Forwarder struct {
	cfg Config
	log *log.Entry

	events   chan interface{}
	sessions map[string]*wire.Conn

	shopConn *wire.Conn
}

// New constructs a Forwarder.
func New(cfg Config) *Forwarder {
	if cfg.ShopDialRetry == 0 {
		cfg.ShopDialRetry = 2 * time.Second
	}
	return &Forwarder{
		cfg:      cfg,
		log:      log.WithField("component", "robotforwarder.Forwarder"),
		events:   make(chan interface{}, 64),
		sessions: make(map[string]*wire.Conn),
	}
}

// Run dials the shop (retrying until it connects or ctx is cancelled),
// accepts screen sessions on ScreenPort, and drives the Forwarder's event
// loop until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	shopConn, err := f.dialShopWithRetry(ctx)
	if err != nil {
		return err
	}
	f.shopConn = shopConn
	go f.shopReadLoop(shopConn)

	var addr = listenAddr(f.cfg.ScreenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on screen port %d", f.cfg.ScreenPort)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
		shopConn.Close()
	}()
	go f.acceptLoop(ln)

	for {
		select {
		case ev := <-f.events:
			f.handleEvent(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Forwarder) dialShopWithRetry(ctx context.Context) (*wire.Conn, error) {
	for {
		conn, err := net.Dial("tcp", f.cfg.ShopAddr)
		if err == nil {
			f.log.WithField("shop", f.cfg.ShopAddr).Info("connected to shop")
			return wire.NewConn(conn), nil
		}
		f.log.WithError(err).WithField("shop", f.cfg.ShopAddr).Warn("dialing shop failed, retrying")
		select {
		case <-time.After(f.cfg.ShopDialRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *Forwarder) shopReadLoop(conn *wire.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			f.log.WithError(err).Warn("shop connection closed")
			f.events <- shopDownEvent{}
			return
		}
		msg, err := wire.DecodeShopResponse(frame)
		if err != nil {
			f.log.WithError(err).Debug("malformed shop frame, dropping")
			continue
		}
		if result, ok := msg.(wire.OrderResult); ok {
			f.events <- shopResultEvent{result: result}
		}
	}
}

func (f *Forwarder) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go f.handleScreenSession(conn)
	}
}

func (f *Forwarder) handleScreenSession(netConn net.Conn) {
	var conn = wire.NewConn(netConn)
	var addr = conn.RemoteAddr()
	f.events <- screenConnectedEvent{addr: addr, conn: conn}
	defer func() {
		conn.Close()
		f.events <- screenDisconnectedEvent{addr: addr}
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		msg, err := wire.DecodeScreenToRobot(frame)
		if err != nil {
			f.log.WithError(err).WithField("screen", addr).Debug("malformed screen frame, dropping")
			continue
		}
		switch m := msg.(type) {
		case wire.ScreenToRobotAskLeader:
			f.events <- screenAskLeaderEvent{addr: addr}
		case wire.ScreenToRobotOrder:
			f.events <- screenOrderEvent{addr: addr, order: m.ScreenToRobotOrder}
		}
	}
}

func (f *Forwarder) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case screenConnectedEvent:
		f.sessions[e.addr] = e.conn
	case screenDisconnectedEvent:
		delete(f.sessions, e.addr)
	case screenAskLeaderEvent:
		f.replyLeaderPort(e.addr)
	case screenOrderEvent:
		f.forwardOrder(e.addr, e.order)
	case shopResultEvent:
		f.routeShopResult(e.result)
	case shopDownEvent:
		f.log.Error("shop connection down; orders can no longer be forwarded")
	case closeAllSessionsEvent:
		for addr, conn := range f.sessions {
			conn.Close()
			delete(f.sessions, addr)
		}
	}
}

func (f *Forwarder) replyLeaderPort(addr string) {
	port, known := f.cfg.Leader.CurrentScreenLeaderPort()
	if !known {
		// Silent: the screen's own reconnect loop will retry (spec.md §4.4).
		return
	}
	conn, ok := f.sessions[addr]
	if !ok {
		return
	}
	if err := conn.Send(wire.NewRobotToScreenLeaderPort(port)); err != nil {
		f.log.WithError(err).WithField("screen", addr).Warn("failed to reply to AskLeader")
	}
}

func (f *Forwarder) forwardOrder(addr string, order wire.ScreenOrder) {
	var shopReq = wire.NewIceCreamOrder(order.Flavors, order.Size, order.Index, addr)
	if err := f.shopConn.Send(shopReq); err != nil {
		f.log.WithError(err).WithField("screen", addr).Error("failed to forward order to shop")
	}
}

func (f *Forwarder) routeShopResult(result wire.OrderResult) {
	if !f.cfg.Leader.IsLeader() {
		// Non-leaders drop it silently: the leader owns the active screen
		// session (spec.md §4.4).
		return
	}
	var addr = result.OrderResult.ScreenAddress
	conn, ok := f.sessions[addr]
	if !ok {
		f.log.WithField("screen", addr).Debug("order result for a closed screen session, dropping")
		return
	}
	var reply = wire.NewRobotToScreenResult(result.OrderResult.ScreenID, result.OrderResult.Result)
	if err := conn.Send(reply); err != nil {
		f.log.WithError(err).WithField("screen", addr).Warn("failed to deliver order result")
	}
}

// CloseScreenSessions closes every currently-open screen session, used by
// robotmesh's LeaderChangeFunc per spec.md §4.3 step 5 ("closes all
// currently-open screen sessions") so screens reconnect and rediscover the
// new leader.
func (f *Forwarder) CloseScreenSessions() {
	f.events <- closeAllSessionsEvent{}
}

type closeAllSessionsEvent struct{}

func listenAddr(port uint32) string {
	return net.JoinHostPort("127.0.0.1", strconv.FormatUint(uint64(port), 10))
}
