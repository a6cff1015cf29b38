// Package wire defines the externally-tagged JSON messages exchanged between
// screens, robots and the shop, and the line-delimited framing used to move
// them over a raw TCP connection.
//
// Every message type below corresponds to one tagged-union variant named in
// the wire protocol: a JSON object with exactly one key (the variant's tag)
// whose value holds the variant's fields. This mirrors the externally-tagged
// enums the original system used, without requiring a shared parent type at
// encode time.
package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Result is the Ok/Err outcome carried by order responses. Exactly one of
// its two fields is ever populated, matching the externally-tagged
// {"Ok":null} | {"Err":string} shape spec.md §6 mandates (and the original's
// serde Result<(), String>). ok distinguishes a populated Ok arm from the
// zero value, since *string can't tell "" apart from unset on its own.
type Result struct {
	ok  bool
	err string
}

// OkResult returns a Result representing success.
func OkResult() Result { return Result{ok: true} }

// ErrResult returns a Result representing failure with the given reason.
func ErrResult(reason string) Result { return Result{err: reason} }

// IsOk reports whether the Result represents success.
func (r Result) IsOk() bool { return r.ok }

// Error returns the failure reason, or "" if the Result is Ok.
func (r Result) Error() string { return r.err }

// MarshalJSON writes {"Ok":null} or {"Err":"<reason>"}, matching the
// externally-tagged wire shape byte-for-byte.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.ok {
		return []byte(`{"Ok":null}`), nil
	}
	return json.Marshal(struct {
		Err string `json:"Err"`
	}{r.err})
}

// UnmarshalJSON accepts {"Ok":null} or {"Err":"<reason>"}.
func (r *Result) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return errors.Wrap(err, "decoding Result")
	}
	if raw, ok := probe["Ok"]; ok {
		if string(raw) != "null" {
			return errors.New("Result: Ok arm must be null")
		}
		*r = Result{ok: true}
		return nil
	}
	if raw, ok := probe["Err"]; ok {
		var reason string
		if err := json.Unmarshal(raw, &reason); err != nil {
			return errors.Wrap(err, "decoding Result Err")
		}
		*r = Result{err: reason}
		return nil
	}
	return errors.New("Result: missing Ok/Err tag")
}

// ---- Screen <-> Robot -------------------------------------------------

// ScreenOrder is the screen's request to place an order with its current
// leader robot.
type ScreenOrder struct {
	Index   uint32   `json:"index"`
	Flavors []string `json:"flavors"`
	Size    uint32   `json:"size"`
}

// ScreenAskLeader is the screen's request for the currently known leader's
// screen-facing port.
type ScreenAskLeader struct{}

// ScreenToRobotOrder is the outer envelope for ScreenOrder.
type ScreenToRobotOrder struct {
	ScreenToRobotOrder ScreenOrder `json:"ScreenToRobotOrder"`
}

// ScreenToRobotAskLeader is the outer envelope for ScreenAskLeader.
type ScreenToRobotAskLeader struct {
	ScreenToRobotAskLeader ScreenAskLeader `json:"ScreenToRobotAskLeader"`
}

// RobotToScreenResult carries the outcome of a previously submitted order.
type RobotToScreenResult struct {
	RobotToScreenResult struct {
		Index  uint32 `json:"index"`
		Result Result `json:"result"`
	} `json:"RobotToScreenResult"`
}

// RobotToScreenLeaderPort answers ScreenAskLeader.
type RobotToScreenLeaderPort struct {
	RobotToScreenLeaderPort struct {
		LeaderPort uint32 `json:"leader_port"`
	} `json:"RobotToScreenLeaderPort"`
}

// NewRobotToScreenResult builds a RobotToScreenResult envelope.
func NewRobotToScreenResult(index uint32, result Result) RobotToScreenResult {
	var m RobotToScreenResult
	m.RobotToScreenResult.Index = index
	m.RobotToScreenResult.Result = result
	return m
}

// NewRobotToScreenLeaderPort builds a RobotToScreenLeaderPort envelope.
func NewRobotToScreenLeaderPort(port uint32) RobotToScreenLeaderPort {
	var m RobotToScreenLeaderPort
	m.RobotToScreenLeaderPort.LeaderPort = port
	return m
}

// ---- Robot <-> Shop ----------------------------------------------------

// IceCreamOrder is the robot leader's request to the shop on behalf of a
// screen.
type IceCreamOrder struct {
	IceCreamOrder struct {
		Flavors       []string `json:"flavors"`
		Size          uint32   `json:"size"`
		ScreenID      uint32   `json:"screen_id"`
		ScreenAddress string   `json:"screen_address"`
	} `json:"IceCreamOrder"`
}

// NewIceCreamOrder builds an IceCreamOrder envelope.
func NewIceCreamOrder(flavors []string, size uint32, screenID uint32, screenAddress string) IceCreamOrder {
	var m IceCreamOrder
	m.IceCreamOrder.Flavors = flavors
	m.IceCreamOrder.Size = size
	m.IceCreamOrder.ScreenID = screenID
	m.IceCreamOrder.ScreenAddress = screenAddress
	return m
}

// OrderResult is the shop's reply to IceCreamOrder.
type OrderResult struct {
	OrderResult struct {
		ScreenID      uint32 `json:"screen_id"`
		Result        Result `json:"result"`
		ScreenAddress string `json:"screen_address"`
	} `json:"OrderResult"`
}

// NewOrderResult builds an OrderResult envelope.
func NewOrderResult(screenID uint32, result Result, screenAddress string) OrderResult {
	var m OrderResult
	m.OrderResult.ScreenID = screenID
	m.OrderResult.Result = result
	m.OrderResult.ScreenAddress = screenAddress
	return m
}

// ---- Robot <-> Robot ----------------------------------------------------

// GetMyInformation is the handshake a peer sends immediately upon
// connecting, announcing its peer_id.
type GetMyInformation struct {
	GetMyInformation struct {
		RobotToRobotID uint32 `json:"robot_to_robot_id"`
	} `json:"GetMyInformation"`
}

// NewGetMyInformation builds a GetMyInformation envelope.
func NewGetMyInformation(peerID uint32) GetMyInformation {
	var m GetMyInformation
	m.GetMyInformation.RobotToRobotID = peerID
	return m
}

// StartElection asks the receiving peer to begin (or continue) a bully
// election, because the sender believes the receiver may have the highest
// known id.
type StartElection struct {
	StartElection struct{} `json:"StartElection"`
}

// LeaderSelected announces the winner of an election to every known peer.
type LeaderSelected struct {
	LeaderSelected struct {
		RobotToRobotLeaderID  uint32 `json:"robot_to_robot_leader_id"`
		RobotToScreenLeaderID uint32 `json:"robot_to_screen_leader_id"`
	} `json:"LeaderSelected"`
}

// NewLeaderSelected builds a LeaderSelected envelope.
func NewLeaderSelected(peerLeaderID, screenLeaderID uint32) LeaderSelected {
	var m LeaderSelected
	m.LeaderSelected.RobotToRobotLeaderID = peerLeaderID
	m.LeaderSelected.RobotToScreenLeaderID = screenLeaderID
	return m
}
