// Package shoprouter implements the Order Router (spec.md §4.2): one
// instance per accepted robot TCP session, bridging that session to the
// shared Stock Engine and aggregating each order's per-flavor fan-out.
//
// Following the teacher's broker/append_fsm.go shape, all mutable state
// (the in-flight order map) is owned by a single goroutine running Run,
// which is the only place that map is ever touched — the same
// single-actor-per-session discipline spec.md §5 requires ("the inventory
// map structure itself is immutable after load... Peer and screen
// connection maps are owned exclusively by their respective mesh/forwarder
// actor; they are not shared").
package shoprouter

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/Rpetey317/heladeria/stock"
	"github.com/Rpetey317/heladeria/wire"
)

// ErrCouldntGetAllFlavors is the error text returned to a screen when one
// of its order's flavors could not be reserved, per spec.md §6.
const ErrCouldntGetAllFlavors = "Couldn't get all flavors"

// Sender delivers a finished OrderResult back over the owning robot
// session.
type Sender func(wire.OrderResult) error

// Router aggregates fan-out for all orders placed on one robot session.
type Router struct {
	engine *stock.Engine
	send   Sender

	makeOrderCh chan makeOrderReq
	resultsCh   chan stock.StockResult

	orders map[uuid.UUID]*activeOrder
	log    *log.Entry
}

type makeOrderReq struct {
	req  MakeOrderRequest
	done chan uuid.UUID
}

// New constructs a Router bound to engine, delivering finished results via
// send.
func New(engine *stock.Engine, send Sender) *Router {
	return &Router{
		engine:      engine,
		send:        send,
		makeOrderCh: make(chan makeOrderReq),
		resultsCh:   make(chan stock.StockResult, 64),
		orders:      make(map[uuid.UUID]*activeOrder),
		log:         log.WithField("component", "shoprouter.Router"),
	}
}

// Run drives the Router's event loop until ctx is cancelled. On exit, every
// still-active order is failed with a synthetic OrderResult so the screen
// side never waits forever on a session that died mid-order (spec.md §4.2
// "Shutdown semantics").
func (r *Router) Run(ctx context.Context) {
	var tr = trace.New("shoprouter.Router", "Run")
	defer tr.Finish()
	var runCtx = trace.NewContext(ctx, tr)

	for {
		select {
		case m := <-r.makeOrderCh:
			id := r.makeOrder(runCtx, m.req)
			m.done <- id
		case res := <-r.resultsCh:
			r.handleStockResult(runCtx, res)
		case <-ctx.Done():
			r.shutdown()
			return
		}
	}
}

// MakeOrder submits a new order and returns its assigned id, blocking until
// the Router's event loop has registered it. Safe to call concurrently from
// the session's request-reading goroutine.
func (r *Router) MakeOrder(req MakeOrderRequest) uuid.UUID {
	var m = makeOrderReq{req: req, done: make(chan uuid.UUID, 1)}
	r.makeOrderCh <- m
	return <-m.done
}

func (r *Router) makeOrder(ctx context.Context, req MakeOrderRequest) uuid.UUID {
	var id = uuid.New()
	var n = len(req.Flavors)

	r.log.WithFields(log.Fields{"order": id, "screen": req.ScreenID, "flavors": n, "size": req.Size}).
		Debug("received order")
	addTrace(ctx, "order %s: %d flavors, size %d, screen %d", id, n, req.Size, req.ScreenID)

	if n == 0 {
		r.log.WithField("order", id).Warn("order has no flavors, failing immediately")
		addTrace(ctx, "order %s: no flavors, failing immediately", id)
		if err := r.send(wire.NewOrderResult(req.ScreenID, wire.ErrResult(ErrCouldntGetAllFlavors), req.ScreenAddress)); err != nil {
			r.log.WithError(err).Warn("failed to send order result")
		}
		return id
	}

	r.orders[id] = &activeOrder{
		id:             id,
		screenID:       req.ScreenID,
		screenAddress:  req.ScreenAddress,
		flavorsToOrder: n,
	}

	// Per-flavor requested units: integer division, remainder discarded
	// (spec.md §3, §9 — kept as-is).
	var units = req.Size / uint32(n)
	for _, flavor := range req.Flavors {
		if err := r.engine.Reserve(id, flavor, units, r.resultsCh); err != nil {
			r.log.WithError(err).WithFields(log.Fields{"order": id, "flavor": flavor}).
				Debug("reserve rejected synchronously")
			addTrace(ctx, "order %s: reserve %s rejected synchronously: %v", id, flavor, err)
		}
	}
	return id
}

func (r *Router) handleStockResult(ctx context.Context, res stock.StockResult) {
	order, ok := r.orders[res.OrderID]
	if !ok {
		// The order was already completed or failed. A reservation that
		// succeeded after its order failed is released here, so a sibling
		// flavor's failure rolls back every flavor of the order; the result
		// itself is then dropped silently, with no retry or dead-letter
		// channel.
		if res.Ok {
			r.engine.Cancel(res.OrderID, []stock.FlavorUnits{{Flavor: res.Flavor, Units: res.Units}})
		}
		r.log.WithField("order", res.OrderID).Trace("stock result for unknown order, dropping")
		addTrace(ctx, "stock result for unknown order %s, dropping", res.OrderID)
		return
	}

	if !res.Ok {
		r.log.WithField("order", res.OrderID).Debug("order failed, rolling back reserved flavors")
		addTrace(ctx, "order %s: flavor %s unavailable, rolling back", res.OrderID, res.Flavor)
		r.engine.Cancel(res.OrderID, order.flavorsOrdered)
		if err := r.send(wire.NewOrderResult(order.screenID, wire.ErrResult(ErrCouldntGetAllFlavors), order.screenAddress)); err != nil {
			r.log.WithError(err).Warn("failed to send order result")
		}
		delete(r.orders, res.OrderID)
		return
	}

	order.flavorsOrdered = append(order.flavorsOrdered, stock.FlavorUnits{Flavor: res.Flavor, Units: res.Units})
	if !order.done() {
		return
	}

	r.log.WithField("order", res.OrderID).Debug("order fulfilled")
	addTrace(ctx, "order %s: all flavors reserved, confirming", res.OrderID)
	r.engine.Confirm(res.OrderID, order.flavorsOrdered)
	if err := r.send(wire.NewOrderResult(order.screenID, wire.OkResult(), order.screenAddress)); err != nil {
		r.log.WithError(err).Warn("failed to send order result")
	}
	delete(r.orders, res.OrderID)
}

func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}

func (r *Router) shutdown() {
	for id, order := range r.orders {
		r.log.WithField("order", id).Info("session closing with order still in flight, failing it")
		if err := r.send(wire.NewOrderResult(order.screenID, wire.ErrResult("session closed"), order.screenAddress)); err != nil {
			r.log.WithError(err).Warn("failed to send shutdown order result")
		}
	}
	r.orders = nil
}
