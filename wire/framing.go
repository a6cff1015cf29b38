package wire

import (
	"bufio"
	"encoding/json"

	"github.com/pkg/errors"
)

// Framing is a JSON-lines encode/decode pair: write a value followed by a
// newline, or read back one newline-terminated frame. Every TCP link in this
// system (screen<->robot, robot<->robot, robot<->shop) uses the same
// Framing, mirroring the teacher's message.JSONFraming which also encodes
// one JSON value per line and decodes by reading whole lines first.
type Framing struct{}

// Marshal writes v as a single JSON line to bw. The caller must Flush bw.
func (Framing) Marshal(v interface{}, bw *bufio.Writer) error {
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		return errors.Wrap(err, "encoding wire frame")
	}
	return nil
}

// Unpack reads and returns one newline-terminated frame (without the
// trailing newline) from br.
func (Framing) Unpack(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	// A final line lacking a trailing newline (EOF mid-frame) is still a
	// usable frame if it parses; only report err once len(line) == 0.
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}

// tag extracts the sole top-level key of a JSON object frame, which
// identifies the externally-tagged variant it carries.
func tag(frame []byte) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return "", errors.Wrap(err, "decoding tagged wire frame")
	}
	for k := range probe {
		return k, nil
	}
	return "", errors.New("empty tagged wire frame")
}

// ErrMalformed indicates a frame that parsed as JSON but did not match any
// known variant tag for the link it was read on. Per spec.md §7, malformed
// messages are dropped silently by the caller; this error exists only so
// callers can distinguish "drop and continue" from a transport failure.
var ErrMalformed = errors.New("malformed or unrecognized wire frame")

// DecodeScreenToRobot decodes a frame sent from a screen to a robot.
func DecodeScreenToRobot(frame []byte) (interface{}, error) {
	t, err := tag(frame)
	if err != nil {
		return nil, err
	}
	switch t {
	case "ScreenToRobotOrder":
		var m ScreenToRobotOrder
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding ScreenToRobotOrder")
		}
		return m, nil
	case "ScreenToRobotAskLeader":
		var m ScreenToRobotAskLeader
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding ScreenToRobotAskLeader")
		}
		return m, nil
	default:
		return nil, ErrMalformed
	}
}

// DecodeRobotToScreen decodes a frame sent from a robot to a screen.
func DecodeRobotToScreen(frame []byte) (interface{}, error) {
	t, err := tag(frame)
	if err != nil {
		return nil, err
	}
	switch t {
	case "RobotToScreenResult":
		var m RobotToScreenResult
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding RobotToScreenResult")
		}
		return m, nil
	case "RobotToScreenLeaderPort":
		var m RobotToScreenLeaderPort
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding RobotToScreenLeaderPort")
		}
		return m, nil
	default:
		return nil, ErrMalformed
	}
}

// DecodeShopRequest decodes a frame sent from a robot to the shop.
func DecodeShopRequest(frame []byte) (interface{}, error) {
	t, err := tag(frame)
	if err != nil {
		return nil, err
	}
	switch t {
	case "IceCreamOrder":
		var m IceCreamOrder
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding IceCreamOrder")
		}
		return m, nil
	default:
		return nil, ErrMalformed
	}
}

// DecodeShopResponse decodes a frame sent from the shop to a robot.
func DecodeShopResponse(frame []byte) (interface{}, error) {
	t, err := tag(frame)
	if err != nil {
		return nil, err
	}
	switch t {
	case "OrderResult":
		var m OrderResult
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding OrderResult")
		}
		return m, nil
	default:
		return nil, ErrMalformed
	}
}

// DecodeRobotRequest decodes a frame sent between robot peers.
func DecodeRobotRequest(frame []byte) (interface{}, error) {
	t, err := tag(frame)
	if err != nil {
		return nil, err
	}
	switch t {
	case "GetMyInformation":
		var m GetMyInformation
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding GetMyInformation")
		}
		return m, nil
	case "StartElection":
		var m StartElection
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding StartElection")
		}
		return m, nil
	case "LeaderSelected":
		var m LeaderSelected
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, errors.Wrap(err, "decoding LeaderSelected")
		}
		return m, nil
	default:
		return nil, ErrMalformed
	}
}
