package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/adapter"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/claim"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/config"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/presence"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/transport"
)

type queueBackend struct {
	responses [][]byte
	idx       int
}

func (q *queueBackend) BulkWrite(ctx context.Context, data []byte) (int, error) { return len(data), nil }

func (q *queueBackend) BulkRead(ctx context.Context, buf []byte) (int, error) {
	if q.idx >= len(q.responses) {
		return 0, errors.New("queueBackend: out of scripted responses")
	}
	resp := q.responses[q.idx]
	q.idx++
	return copy(buf, resp), nil
}

type neverPresentReader struct{}

func (neverPresentReader) InterruptRead(ctx context.Context, buf []byte) (int, error) {
	resp := append(append([]byte{}, frame.ResponsePrefix...), 0x00, 0x00, 0x00, 0x00)
	return copy(buf, resp), nil
}

func newTestDriver(t *testing.T, backend *queueBackend) *Driver {
	store, err := claim.NewStore(t.TempDir())
	require.NoError(t, err)

	return &Driver{
		cfg: &config.DriverConfig{ExpectedModel: "test-model"},
		core: &action.Core{
			Transport: transport.New(backend),
			Waiter:    presence.NewWaiter(neverPresentReader{}).WithPollInterval(time.Millisecond),
			Adapter:   adapter.DefaultEgisMOC(),
			Claims:    store,
		},
		serial: "test-serial",
	}
}

func TestSuspendBlocksActions(t *testing.T) {
	d := newTestDriver(t, &queueBackend{})
	d.Suspend()

	_, err := d.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))
}

func TestResumeAllowsActionsAgain(t *testing.T) {
	d := newTestDriver(t, &queueBackend{responses: [][]byte{
		append(append([]byte{}, frame.ResponsePrefix...), 0x00, 0x00),
	}})
	d.Suspend()
	d.Resume()

	_, err := d.List(context.Background())
	assert.NoError(t, err)
}

func TestIdentifyFailsWhenDeviceSendsNoResponse(t *testing.T) {
	d := newTestDriver(t, &queueBackend{})

	_, err := d.Identify(context.Background(), nil)
	require.Error(t, err)
}

func TestStatusReflectsCore(t *testing.T) {
	d := newTestDriver(t, &queueBackend{})
	status := d.Status()
	assert.Equal(t, "", status.ActiveAction)
}

func TestTransportStatsStartAtZero(t *testing.T) {
	d := newTestDriver(t, &queueBackend{})
	stats := d.TransportStats()
	assert.Equal(t, uint64(0), stats.RequestCount)
}

func TestDeviceSerialReturnsConstructorValue(t *testing.T) {
	d := newTestDriver(t, &queueBackend{})
	assert.Equal(t, "test-serial", d.DeviceSerial())
}
