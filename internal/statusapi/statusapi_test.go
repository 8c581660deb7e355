package statusapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/claim"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/transport"
)

func TestNewRejectsNonLoopbackAddr(t *testing.T) {
	core := &action.Core{}
	tr := transport.New(nil)
	_, err := New("0.0.0.0:8080", core, tr, ClaimQuery{})
	require.Error(t, err)
}

func TestNewAcceptsLoopbackAddr(t *testing.T) {
	core := &action.Core{}
	tr := transport.New(nil)
	s, err := New("127.0.0.1:0", core, tr, ClaimQuery{})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestClaimQuerySnapshotReportsNotLiveWithoutStore(t *testing.T) {
	q := ClaimQuery{Store: nil, DeviceSerial: "s"}
	live, ttl := q.snapshot()
	assert.False(t, live)
	assert.Equal(t, int64(0), ttl)
}

func TestClaimQuerySnapshotReportsNotLiveWhenNoClaimSaved(t *testing.T) {
	store, err := claim.NewStore(t.TempDir())
	require.NoError(t, err)

	q := ClaimQuery{Store: store, DeviceSerial: "missing", ClaimExpirationSeconds: 600}
	live, _ := q.snapshot()
	assert.False(t, live)
}
