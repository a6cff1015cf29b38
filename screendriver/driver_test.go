package screendriver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rpetey317/heladeria/orderfile"
	"github.com/Rpetey317/heladeria/wire"
)

// fakeRobot listens on one port and answers AskLeader by redirecting to a
// second "leader" listener, which replies to every Order with result.
type fakeRobot struct {
	askLn, leaderLn net.Listener
}

func newFakeRobot(t *testing.T, result wire.Result) *fakeRobot {
	askLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	leaderLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var leaderPort = uint32(leaderLn.Addr().(*net.TCPAddr).Port)

	go func() {
		for {
			c, err := askLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				var conn = wire.NewConn(c)
				frame, err := conn.ReadFrame()
				if err != nil {
					return
				}
				if _, err := wire.DecodeScreenToRobot(frame); err != nil {
					return
				}
				conn.Send(wire.NewRobotToScreenLeaderPort(leaderPort))
				conn.Close()
			}(c)
		}
	}()

	go func() {
		for {
			c, err := leaderLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				var conn = wire.NewConn(c)
				defer conn.Close()
				frame, err := conn.ReadFrame()
				if err != nil {
					return
				}
				msg, err := wire.DecodeScreenToRobot(frame)
				if err != nil {
					return
				}
				order, ok := msg.(wire.ScreenToRobotOrder)
				if !ok {
					return
				}
				conn.Send(wire.NewRobotToScreenResult(order.ScreenToRobotOrder.Index, result))
			}(c)
		}
	}()

	return &fakeRobot{askLn: askLn, leaderLn: leaderLn}
}

func (r *fakeRobot) port() uint32 { return uint32(r.askLn.Addr().(*net.TCPAddr).Port) }
func (r *fakeRobot) close()       { r.askLn.Close(); r.leaderLn.Close() }

// TestSuccessfulOrderCompletes covers the happy path of spec.md §4.5: one
// valid, paid-for order against a reachable leader completes.
func TestSuccessfulOrderCompletes(t *testing.T) {
	var robot = newFakeRobot(t, wire.OkResult())
	defer robot.close()

	var port = robot.port()
	var driver = New(Config{
		MinPort: port, MaxPort: port,
		Pay: func() bool { return true },
	}, []orderfile.Order{{Size: 1000, Flavors: []string{"vainilla"}}})

	var ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	driver.Run(ctx)

	require.Equal(t, []OrderState{Completed}, driver.States())
}

// TestOrderFailsWhenShopRejects covers the error-result branch.
func TestOrderFailsWhenShopRejects(t *testing.T) {
	var robot = newFakeRobot(t, wire.ErrResult("Couldn't get all flavors"))
	defer robot.close()

	var port = robot.port()
	var driver = New(Config{
		MinPort: port, MaxPort: port,
		Pay: func() bool { return true },
	}, []orderfile.Order{{Size: 1000, Flavors: []string{"vainilla"}}})

	var ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	driver.Run(ctx)

	require.Equal(t, []OrderState{Failed}, driver.States())
}

// TestInvalidSizeFailsWithoutNetwork covers spec.md §4.5 step 2's size
// validation: a zero-size order never touches the network.
func TestInvalidSizeFailsWithoutNetwork(t *testing.T) {
	var driver = New(Config{MinPort: 1, MaxPort: 1}, []orderfile.Order{{Size: 0, Flavors: []string{"vainilla"}}})

	var ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	driver.Run(ctx)

	require.Equal(t, []OrderState{Failed}, driver.States())
}

// TestPaymentDeclineSkipsNetwork reproduces spec.md §8 scenario S6:
// PaymentAcceptanceRate=0 means every order fails without being sent.
func TestPaymentDeclineSkipsNetwork(t *testing.T) {
	var driver = New(Config{
		MinPort: 1, MaxPort: 1,
		Pay: func() bool { return false },
	}, []orderfile.Order{
		{Size: 1000, Flavors: []string{"vainilla"}},
		{Size: 500, Flavors: []string{"chocolate"}},
		{Size: 250, Flavors: []string{"banana"}},
	})

	var ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	driver.Run(ctx)

	require.Equal(t, []OrderState{Failed, Failed, Failed}, driver.States())
}
