package retry

import (
	"testing"

	"github.com/malbeclabs/ipbus-deviceclient/internal/protocol"
	"github.com/malbeclabs/ipbus-deviceclient/internal/status"
	"github.com/malbeclabs/ipbus-deviceclient/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestDeviceClient_Retry_Decide_RequestLostWhenNextExpectedStillSentID(t *testing.T) {
	t.Parallel()
	sentID := wire.ID(0x1234)
	d := Decide(sentID, status.Outcome{NextExpectedID: sentID}, nil)
	require.Equal(t, ResendRequest, d.Action)
}

func TestDeviceClient_Retry_Decide_ReplyLostWhenNextExpectedAdvanced(t *testing.T) {
	t.Parallel()
	sentID := wire.ID(0x1234)
	d := Decide(sentID, status.Outcome{NextExpectedID: wire.IncrementID(sentID)}, nil)
	require.Equal(t, ResendReply, d.Action)
}

func TestDeviceClient_Retry_Decide_FailsOnUnrelatedNextExpected(t *testing.T) {
	t.Parallel()
	sentID := wire.ID(0x1234)
	d := Decide(sentID, status.Outcome{NextExpectedID: wire.ID(0x9999)}, nil)
	require.Equal(t, Fail, d.Action)
	require.Equal(t, protocol.MalformedStatus, d.ErrorCode)
}

func TestDeviceClient_Retry_Decide_FailsOnStatusTimeout(t *testing.T) {
	t.Parallel()
	d := Decide(wire.ID(1), status.Outcome{}, status.ErrTimeout)
	require.Equal(t, Fail, d.Action)
	require.Equal(t, protocol.StatusTimeout, d.ErrorCode)
}

func TestDeviceClient_Retry_Decide_FailsOnMalformedStatus(t *testing.T) {
	t.Parallel()
	d := Decide(wire.ID(1), status.Outcome{}, status.ErrMalformed)
	require.Equal(t, Fail, d.Action)
	require.Equal(t, protocol.MalformedStatus, d.ErrorCode)
}

func TestDeviceClient_Retry_Decide_WrapAtBoundary(t *testing.T) {
	t.Parallel()
	sentID := wire.ID(0xFFFF)
	d := Decide(sentID, status.Outcome{NextExpectedID: sentID}, nil)
	require.Equal(t, ResendRequest, d.Action)

	d = Decide(sentID, status.Outcome{NextExpectedID: wire.ID(1)}, nil)
	require.Equal(t, ResendReply, d.Action)
}
