package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip exercises the serialize-then-deserialize idempotence
// property required by spec.md §8: every wire message must decode back to
// an equivalent value after a Marshal/Unpack/Unmarshal round trip.
func TestRoundTrip(t *testing.T) {
	var f Framing

	cases := []struct {
		name   string
		in     interface{}
		decode func([]byte) (interface{}, error)
	}{
		{"ScreenToRobotOrder", ScreenToRobotOrder{ScreenToRobotOrder: ScreenOrder{Index: 1, Flavors: []string{"VAINILLA", "CHOCOLATE"}, Size: 4}}, DecodeScreenToRobot},
		{"ScreenToRobotAskLeader", ScreenToRobotAskLeader{}, DecodeScreenToRobot},
		{"RobotToScreenResult-Ok", NewRobotToScreenResult(1, OkResult()), DecodeRobotToScreen},
		{"RobotToScreenResult-Err", NewRobotToScreenResult(1, ErrResult("boom")), DecodeRobotToScreen},
		{"RobotToScreenLeaderPort", NewRobotToScreenLeaderPort(10001), DecodeRobotToScreen},
		{"IceCreamOrder", NewIceCreamOrder([]string{"VAINILLA"}, 4, 7, "127.0.0.1:9"), DecodeShopRequest},
		{"OrderResult", NewOrderResult(7, OkResult(), "127.0.0.1:9"), DecodeShopResponse},
		{"GetMyInformation", NewGetMyInformation(10001), DecodeRobotRequest},
		{"StartElection", StartElection{}, DecodeRobotRequest},
		{"LeaderSelected", NewLeaderSelected(10002, 9999), DecodeRobotRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			var bw = bufio.NewWriter(&buf)
			require.NoError(t, f.Marshal(tc.in, bw))
			require.NoError(t, bw.Flush())

			var br = bufio.NewReader(&buf)
			frame, err := f.Unpack(br)
			require.NoError(t, err)

			out, err := tc.decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.in, out)
		})
	}
}

// TestUnpackMultipleFrames verifies that several JSON lines written back to
// back are read out one at a time, the line-delimited framing spec.md §6
// requires.
func TestUnpackMultipleFrames(t *testing.T) {
	var f Framing
	var buf bytes.Buffer
	var bw = bufio.NewWriter(&buf)

	require.NoError(t, f.Marshal(StartElection{}, bw))
	require.NoError(t, f.Marshal(NewGetMyInformation(5), bw))
	require.NoError(t, bw.Flush())

	var br = bufio.NewReader(&buf)

	first, err := f.Unpack(br)
	require.NoError(t, err)
	firstMsg, err := DecodeRobotRequest(first)
	require.NoError(t, err)
	assert.Equal(t, StartElection{}, firstMsg)

	second, err := f.Unpack(br)
	require.NoError(t, err)
	secondMsg, err := DecodeRobotRequest(second)
	require.NoError(t, err)
	assert.Equal(t, NewGetMyInformation(5), secondMsg)
}

// TestResultOkSerializesAsNull verifies the Ok arm is literally `{"Ok":null}`
// on the wire, matching spec.md §6 and the original's serde
// Result<(), String>, not `{"Ok":{}}`.
func TestResultOkSerializesAsNull(t *testing.T) {
	out, err := json.Marshal(OkResult())
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ok":null}`, string(out))

	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"Ok":null}`), &r))
	assert.True(t, r.IsOk())
}

// TestMalformedFrameDropped verifies an unrecognized tag yields ErrMalformed
// rather than a panic or a zero-valued decode, per spec.md §7's "Malformed
// wire message — dropped silently; no connection reset."
func TestMalformedFrameDropped(t *testing.T) {
	_, err := DecodeRobotRequest([]byte(`{"SomeUnknownVariant":{}}`))
	require.ErrorIs(t, err, ErrMalformed)
}
