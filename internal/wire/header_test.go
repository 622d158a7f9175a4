package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceClient_Wire_ParseHeader_RecognisesV2BigEndian(t *testing.T) {
	t.Parallel()
	ver, id, end := ParseHeader([]byte{0x20, 0x12, 0x34, TypeControl, 0xAA})
	require.Equal(t, VersionV2_0, ver)
	require.Equal(t, ID(0x1234), id)
	require.Equal(t, EndiannessBig, end)
}

func TestDeviceClient_Wire_ParseHeader_RecognisesV2LittleEndian(t *testing.T) {
	t.Parallel()
	ver, id, end := ParseHeader([]byte{TypeControl, 0x34, 0x12, 0x20})
	require.Equal(t, VersionV2_0, ver)
	require.Equal(t, ID(0x1234), id)
	require.Equal(t, EndiannessLittle, end)
}

func TestDeviceClient_Wire_ParseHeader_RecognisesLegacyV1_3(t *testing.T) {
	t.Parallel()

	ver, id, end := ParseHeader([]byte{0x10, 0x00, 0x00, 0xF8})
	require.Equal(t, VersionV1_3, ver)
	require.Equal(t, IDNotSet, id)
	require.Equal(t, EndiannessBig, end)

	ver, id, end = ParseHeader([]byte{0xF8, 0x00, 0x00, 0x10})
	require.Equal(t, VersionV1_3, ver)
	require.Equal(t, IDNotSet, id)
	require.Equal(t, EndiannessLittle, end)
}

func TestDeviceClient_Wire_ParseHeader_UnknownOnGarbage(t *testing.T) {
	t.Parallel()

	ver, id, end := ParseHeader([]byte{0x00, 0x00, 0x00, 0x00})
	require.Equal(t, VersionUnknown, ver)
	require.Equal(t, IDNotSet, id)
	require.Equal(t, EndiannessUnknown, end)

	ver, id, end = ParseHeader([]byte{0x20})
	require.Equal(t, VersionUnknown, ver)
	require.Equal(t, IDNotSet, id)
	require.Equal(t, EndiannessUnknown, end)
}

func TestDeviceClient_Wire_RewriteID_StampsPreservingEndianness(t *testing.T) {
	t.Parallel()

	ver, out, stamped, err := RewriteID([]byte{0x20, 0x00, 0x05, TypeControl, 0xAA, 0xBB}, ID(0x1234))
	require.NoError(t, err)
	require.Equal(t, VersionV2_0, ver)
	require.Equal(t, ID(0x1234), stamped)
	require.Equal(t, []byte{0x20, 0x12, 0x34, TypeControl, 0xAA, 0xBB}, out)

	ver, out, stamped, err = RewriteID([]byte{TypeControl, 0x00, 0x05, 0x20, 0xAA}, ID(0x1234))
	require.NoError(t, err)
	require.Equal(t, VersionV2_0, ver)
	require.Equal(t, ID(0x1234), stamped)
	require.Equal(t, []byte{TypeControl, 0x34, 0x12, 0x20, 0xAA}, out)
}

func TestDeviceClient_Wire_RewriteID_PassthroughForNonV2(t *testing.T) {
	t.Parallel()
	req := []byte{0x10, 0x00, 0x00, 0xF8, 0x01}
	ver, out, stamped, err := RewriteID(req, ID(5))
	require.NoError(t, err)
	require.Equal(t, VersionV1_3, ver)
	require.Equal(t, IDNotSet, stamped)
	require.Equal(t, req, out)
}

func TestDeviceClient_Wire_RewriteID_ErrorsOnUnknownIDForV2(t *testing.T) {
	t.Parallel()
	_, _, _, err := RewriteID([]byte{0x20, 0x00, 0x05, TypeControl}, IDNotSet)
	require.ErrorIs(t, err, ErrIDUnknown)
}

func TestDeviceClient_Wire_IncrementDecrementID_Wrap(t *testing.T) {
	t.Parallel()
	require.Equal(t, ID(1), IncrementID(0xFFFF))
	require.Equal(t, ID(0xFFFF), DecrementID(1))
	require.Equal(t, ID(2), IncrementID(1))
	require.Equal(t, ID(1), DecrementID(2))
}

func TestDeviceClient_Wire_IncrementDecrementID_RoundTrip(t *testing.T) {
	t.Parallel()
	for x := 1; x <= 0xFFFF; x++ {
		id := ID(x)
		require.Equal(t, id, IncrementID(DecrementID(id)))
	}
}

func TestDeviceClient_Wire_ParseHeader_RoundTripsThroughRewrite(t *testing.T) {
	t.Parallel()
	req := []byte{0x20, 0x00, 0x05, TypeControl, 0xAA, 0xBB}
	_, out, stamped, err := RewriteID(req, ID(0x0042))
	require.NoError(t, err)

	ver, id, end := ParseHeader(out)
	require.Equal(t, VersionV2_0, ver)
	require.Equal(t, stamped, id)
	require.Equal(t, EndiannessBig, end)
}
