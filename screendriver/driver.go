// Package screendriver implements the Screen Order Driver of spec.md §4.5:
// a single-threaded, single-goroutine loop that discovers the current
// leader robot, submits orders one at a time, and reconnects on session
// loss.
//
// Following the teacher's broker/client.Reader reconnect shape (read loop
// owns the connection, a fresh Reader is built on every retry rather than
// patching up a half-dead one), the driver rebuilds its connection and
// leader state from scratch on every reconnect rather than trying to
// resume a stale session.
package screendriver

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Rpetey317/heladeria/orderfile"
	"github.com/Rpetey317/heladeria/wire"
)

// errNoLeaderFound means the full port sweep ran without reaching any robot
// that knew a leader; the caller waits LeaderElectionTime and retries.
var errNoLeaderFound = errors.New("no leader found in port sweep")

// PaymentAcceptanceRate is the Bernoulli trial probability that a payment
// capture attempt succeeds, per spec.md §4.5.
const PaymentAcceptanceRate = 0.95

// LeaderElectionTime is how long the driver waits after losing its session
// before re-sweeping the port range, giving the robot mesh time to finish
// an election, per spec.md §4.5.
const LeaderElectionTime = 20 * time.Second

// OrderState is the lifecycle state of one screen order (spec.md §3).
type OrderState int

const (
	Pending OrderState = iota
	Completed
	Failed
)

func (s OrderState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// trackedOrder pairs a loaded order with its current state.
type trackedOrder struct {
	orderfile.Order
	state OrderState
}

// Dialer abstracts the connect sweep so tests can substitute an in-memory
// transport; *net.Dialer satisfies it in production.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// PayFunc attempts payment capture and reports whether it succeeded.
// Defaults to a Bernoulli trial at PaymentAcceptanceRate.
type PayFunc func() bool

// Config parametrizes a Driver.
type Config struct {
	MinPort, MaxPort uint32
	Host             string // defaults to 127.0.0.1

	Dialer            Dialer
	Pay               PayFunc
	Rand              *rand.Rand    // defaults to a new source seeded with 1 if nil
	AskLeaderDeadline time.Duration // defaults to 1s; bounds the AskLeader reply wait.
}

// Driver runs the Screen Order Driver's event loop.
type Driver struct {
	cfg    Config
	orders []trackedOrder
	log    *log.Entry
}

// New constructs a Driver over the given orders, which are processed in
// file order (spec.md §4.5's "ordering guarantee").
func New(cfg Config, orders []orderfile.Order) *Driver {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: 500 * time.Millisecond}
	}
	if cfg.AskLeaderDeadline == 0 {
		cfg.AskLeaderDeadline = time.Second
	}
	if cfg.Pay == nil {
		var r = cfg.Rand
		if r == nil {
			r = rand.New(rand.NewSource(1))
		}
		cfg.Pay = func() bool { return r.Float64() < PaymentAcceptanceRate }
	}
	var tracked = make([]trackedOrder, len(orders))
	for i, o := range orders {
		tracked[i] = trackedOrder{Order: o, state: Pending}
	}
	return &Driver{cfg: cfg, orders: tracked, log: log.WithField("component", "screendriver.Driver")}
}

// States returns a snapshot of every order's final/current state, for tests
// and diagnostics.
func (d *Driver) States() []OrderState {
	var out = make([]OrderState, len(d.orders))
	for i, o := range d.orders {
		out[i] = o.state
	}
	return out
}

// Run drives every order to completion or ctx cancellation, reconnecting
// across leader changes as needed.
func (d *Driver) Run(ctx context.Context) {
	for i := range d.orders {
		if ctx.Err() != nil {
			return
		}
		d.runOne(ctx, i)
	}
}

func (d *Driver) runOne(ctx context.Context, idx int) {
	var order = &d.orders[idx]

	if order.Size == 0 {
		d.log.WithField("order", idx).Warn("invalid size token, failing without contacting a robot")
		order.state = Failed
		return
	}
	if !d.cfg.Pay() {
		d.log.WithField("order", idx).Info("payment declined, failing without contacting a robot")
		order.state = Failed
		return
	}

	for {
		conn, err := d.connectToLeader(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.WithError(err).Warn("no leader reachable, waiting for election to settle")
			if !sleepCtx(ctx, LeaderElectionTime) {
				return
			}
			continue
		}

		if err := conn.Send(wire.ScreenToRobotOrder{ScreenToRobotOrder: wire.ScreenOrder{
			Index: uint32(idx), Flavors: order.Flavors, Size: order.Size,
		}}); err != nil {
			d.log.WithError(err).Warn("send failed, session lost")
			conn.Close()
			if !sleepCtx(ctx, LeaderElectionTime) {
				return
			}
			continue
		}

		result, ok := d.awaitResult(conn, uint32(idx))
		conn.Close()
		if !ok {
			if !sleepCtx(ctx, LeaderElectionTime) {
				return
			}
			continue
		}
		if result.IsOk() {
			order.state = Completed
		} else {
			order.state = Failed
		}
		return
	}
}

func (d *Driver) awaitResult(conn *wire.Conn, wantIndex uint32) (wire.Result, bool) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			d.log.WithError(err).Debug("session lost awaiting order result")
			return wire.Result{}, false
		}
		msg, err := wire.DecodeRobotToScreen(frame)
		if err != nil {
			continue
		}
		res, ok := msg.(wire.RobotToScreenResult)
		if !ok || res.RobotToScreenResult.Index != wantIndex {
			continue
		}
		return res.RobotToScreenResult.Result, true
	}
}

// connectToLeader sweeps [MinPort,MaxPort], asking each reachable robot for
// its known leader, and dials that leader's screen_port directly, per
// spec.md §4.5 step 1.
func (d *Driver) connectToLeader(ctx context.Context) (*wire.Conn, error) {
	for port := d.cfg.MinPort; port <= d.cfg.MaxPort; port++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var addr = net.JoinHostPort(d.cfg.Host, strconv.FormatUint(uint64(port), 10))
		netConn, err := d.cfg.Dialer.Dial("tcp", addr)
		if err != nil {
			continue
		}
		var conn = wire.NewConn(netConn)

		leaderPort, ok := d.askLeader(conn)
		conn.Close()
		if !ok {
			continue
		}

		var leaderAddr = net.JoinHostPort(d.cfg.Host, strconv.FormatUint(uint64(leaderPort), 10))
		leaderNetConn, err := d.cfg.Dialer.Dial("tcp", leaderAddr)
		if err != nil {
			continue
		}
		d.log.WithField("leader_port", leaderPort).Info("connected to leader")
		return wire.NewConn(leaderNetConn), nil
	}
	return nil, errNoLeaderFound
}

func (d *Driver) askLeader(conn *wire.Conn) (uint32, bool) {
	if err := conn.Send(wire.ScreenToRobotAskLeader{}); err != nil {
		return 0, false
	}
	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.AskLeaderDeadline))
	frame, err := conn.ReadFrame()
	if err != nil {
		return 0, false
	}
	msg, err := wire.DecodeRobotToScreen(frame)
	if err != nil {
		return 0, false
	}
	reply, ok := msg.(wire.RobotToScreenLeaderPort)
	if !ok {
		return 0, false
	}
	return reply.RobotToScreenLeaderPort.LeaderPort, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
