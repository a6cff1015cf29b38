package robotmesh

import (
	"context"
	"testing"
	"time"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type MeshSuite struct{}

var _ = gc.Suite(&MeshSuite{})

// newTestMesh builds a Mesh and records every leader change it observes via
// OnLeader. OnLeader also fires for repeated announcements of the leader
// already known, so a repeat of the last recorded pair is not recorded again.
func newTestMesh(ctx context.Context, peerID, screenPort, min, max uint32) (*Mesh, chan [2]uint32) {
	var changes = make(chan [2]uint32, 8)
	var last [2]uint32
	var seen bool
	var m = New(Config{
		PeerID:      peerID,
		ScreenPort:  screenPort,
		MinPort:     min,
		MaxPort:     max,
		DialTimeout: 200 * time.Millisecond,
		OnLeader: func(peerLeaderID, screenLeaderID uint32) {
			var got = [2]uint32{peerLeaderID, screenLeaderID}
			if seen && got == last {
				return
			}
			last, seen = got, true
			changes <- got
		},
	})
	return m, changes
}

func waitForLeader(c *gc.C, changes chan [2]uint32, wantPeerLeader uint32) {
	select {
	case got := <-changes:
		c.Assert(got[0], gc.Equals, wantPeerLeader)
	case <-time.After(3 * time.Second):
		c.Fatal("timed out waiting for leader change")
	}
}

// TestThreeNodeElectsHighestPort reproduces spec.md §8 scenario S5's initial
// election: the highest port among bootstrapped peers wins.
func (s *MeshSuite) TestThreeNodeElectsHighestPort(c *gc.C) {
	const min, max = uint32(21000), uint32(21002)
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var m1, ch1 = newTestMesh(ctx, min, 31000, min, max)
	var m2, ch2 = newTestMesh(ctx, min+1, 31001, min, max)
	var m3, ch3 = newTestMesh(ctx, max, 31002, min, max)

	for _, m := range []*Mesh{m1, m2, m3} {
		go m.Run(ctx)
		go func(m *Mesh) {
			if err := m.ListenAndServe(ctx); err != nil {
				c.Log("listen: ", err)
			}
		}(m)
	}
	time.Sleep(100 * time.Millisecond) // let listeners bind before dialing

	for _, m := range []*Mesh{m1, m2, m3} {
		go m.Bootstrap(ctx)
	}

	waitForLeader(c, ch1, max)
	waitForLeader(c, ch2, max)
	waitForLeader(c, ch3, max)

	c.Assert(m3.IsLeader(), gc.Equals, true)
	c.Assert(m1.IsLeader(), gc.Equals, false)

	port, ok := m1.CurrentScreenLeaderPort()
	c.Assert(ok, gc.Equals, true)
	c.Assert(port, gc.Equals, uint32(31002))
}

// TestLeaderDeathTriggersReelection reproduces spec.md §8 scenario S5's
// takeover: killing the leader causes the next-highest surviving peer to
// win within one election round.
func (s *MeshSuite) TestLeaderDeathTriggersReelection(c *gc.C) {
	const min, max = uint32(21010), uint32(21012)
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var leaderCtx, cancelLeader = context.WithCancel(ctx)
	var m1, ch1 = newTestMesh(ctx, min, 31010, min, max)
	var m2, ch2 = newTestMesh(ctx, min+1, 31011, min, max)
	var m3, _ = newTestMesh(leaderCtx, max, 31012, min, max)

	for _, pair := range []struct {
		m   *Mesh
		ctx context.Context
	}{{m1, ctx}, {m2, ctx}, {m3, leaderCtx}} {
		var m, mctx = pair.m, pair.ctx
		go m.Run(mctx)
		go func() {
			if err := m.ListenAndServe(mctx); err != nil {
				c.Log("listen: ", err)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)

	for _, m := range []*Mesh{m1, m2, m3} {
		go m.Bootstrap(ctx)
	}

	waitForLeader(c, ch1, max)
	waitForLeader(c, ch2, max)

	cancelLeader() // kill the leader: its listener and outbound conns close

	waitForLeader(c, ch1, min+1)
	waitForLeader(c, ch2, min+1)
	c.Assert(m2.IsLeader(), gc.Equals, true)
}
