package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestChecksumRoundTrip(t *testing.T) {
	// Property 1 / Scenario S1: for any payload, the framed buffer sums to
	// zero mod 0xFFFF under 16-bit big-endian word summation.
	payloads := [][]byte{
		{},
		{0x01, 0x02, 0x03, 0x04},
		{0xFF},
		make([]byte, 257),
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	for i := range payloads[3] {
		payloads[3][i] = byte(i)
	}

	for _, p := range payloads {
		buf := BuildRequest(p)
		require.True(t, len(buf)%2 == 0, "framed buffer must be even length")
		assert.True(t, VerifyChecksum(buf), "checksum must be zero mod 0xFFFF for payload %x", p)
	}
}

func TestBuildRequestScenarioS1(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	buf := BuildRequest(payload)

	require.Len(t, buf, 14)
	assert.Equal(t, byte('E'), buf[0])
	assert.Equal(t, byte('G'), buf[1])
	assert.Equal(t, byte('I'), buf[2])
	assert.Equal(t, byte('S'), buf[3])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, buf[4:8])
	assert.Equal(t, payload, buf[10:14])
	assert.True(t, VerifyChecksum(buf))
}

func TestBuildRequestPadsOddPayload(t *testing.T) {
	buf := BuildRequest([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, 0, len(buf)%2)
	assert.True(t, VerifyChecksum(buf))
}

func TestVerifyChecksumRejectsTampering(t *testing.T) {
	buf := BuildRequest([]byte{0x01, 0x02, 0x03, 0x04})
	tampered := append([]byte(nil), buf...)
	tampered[len(tampered)-1] ^= 0xFF
	assert.False(t, VerifyChecksum(tampered))
}

func TestVerifyChecksumRejectsShortOrOdd(t *testing.T) {
	assert.False(t, VerifyChecksum(nil))
	assert.False(t, VerifyChecksum([]byte{0x01}))
	assert.False(t, VerifyChecksum(make([]byte, 9)))
}

func TestClassifyResponse(t *testing.T) {
	// Property 7.
	assert.False(t, ClassifyResponse(nil, []byte("x"), nil))
	assert.False(t, ClassifyResponse([]byte{}, []byte("x"), nil))

	suffix := []byte{0xDE, 0xAD}
	assert.True(t, ClassifyResponse(suffix, nil, suffix))
	assert.True(t, ClassifyResponse(append([]byte{0x01, 0x02}, suffix...), nil, suffix))
	assert.False(t, ClassifyResponse([]byte{0xDE, 0xAE}, nil, suffix))
}

func TestHasResponsePrefix(t *testing.T) {
	assert.True(t, HasResponsePrefix(append(append([]byte{}, ResponsePrefix...), 0x00, 0x00)))
	assert.False(t, HasResponsePrefix([]byte("NOPE")))
}

func TestStripResponsePrefix(t *testing.T) {
	buf := append(append([]byte{}, ResponsePrefix...), 0x00, 0x01, 0xAA, 0xBB)
	payload, err := StripResponsePrefix(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)

	_, err = StripResponsePrefix([]byte("SI"), 2)
	assert.Error(t, err)
}
