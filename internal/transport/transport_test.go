package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
)

type fakeBackend struct {
	writeErr  error
	writeN    int
	readErr   error
	readResp  []byte
	wroteLast []byte
}

func (f *fakeBackend) BulkWrite(ctx context.Context, data []byte) (int, error) {
	f.wroteLast = append([]byte(nil), data...)
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := f.writeN
	if n == 0 {
		n = len(data)
	}
	return n, nil
}

func (f *fakeBackend) BulkRead(ctx context.Context, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return copy(buf, f.readResp), nil
}

func TestExecSendsAndReceives(t *testing.T) {
	fb := &fakeBackend{readResp: append([]byte("SIGE"), 0x00, 0x00, 0xAA)}
	tr := New(fb)

	res := tr.Exec(context.Background(), []byte{0x01, 0x02}, true)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte{0x01, 0x02}, fb.wroteLast)
	assert.Equal(t, fb.readResp, res.Response)
}

func TestExecSkipsSendWhenPayloadNil(t *testing.T) {
	fb := &fakeBackend{readResp: append([]byte("SIGE"), 0x00, 0x00)}
	tr := New(fb)

	res := tr.Exec(context.Background(), nil, true)
	require.NoError(t, res.Err)
	assert.Nil(t, fb.wroteLast)
}

func TestExecWriteErrorIsIO(t *testing.T) {
	fb := &fakeBackend{writeErr: errors.New("usb gone")}
	tr := New(fb)

	res := tr.Exec(context.Background(), []byte{0x01}, true)
	require.Error(t, res.Err)
	assert.Equal(t, errs.IO, errs.KindOf(res.Err))
}

func TestExecReadErrorIsIO(t *testing.T) {
	fb := &fakeBackend{readErr: errors.New("usb gone")}
	tr := New(fb)

	res := tr.Exec(context.Background(), []byte{0x01}, true)
	require.Error(t, res.Err)
	assert.Equal(t, errs.IO, errs.KindOf(res.Err))
}

func TestExecShortReadIsProtoWhenRequired(t *testing.T) {
	fb := &fakeBackend{readResp: []byte("NOPE")}
	tr := New(fb)

	res := tr.Exec(context.Background(), []byte{0x01}, true)
	require.Error(t, res.Err)
	assert.Equal(t, errs.Proto, errs.KindOf(res.Err))
}

func TestExecShortReadAllowedWhenNotRequired(t *testing.T) {
	fb := &fakeBackend{readResp: []byte("NOPE")}
	tr := New(fb)

	res := tr.Exec(context.Background(), []byte{0x01}, false)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("NOPE"), res.Response)
}

func TestExecTimeoutIsTimeoutKind(t *testing.T) {
	fb := &fakeBackend{readErr: context.DeadlineExceeded}
	tr := New(fb, WithTimeouts(10*time.Millisecond, 10*time.Millisecond))

	res := tr.Exec(context.Background(), []byte{0x01}, true)
	require.Error(t, res.Err)
	assert.Equal(t, errs.Timeout, errs.KindOf(res.Err))
}

func TestStatsAccumulateAcrossExecs(t *testing.T) {
	fb := &fakeBackend{readResp: append([]byte("SIGE"), 0x00, 0x00, 0xAA)}
	tr := New(fb)

	tr.Exec(context.Background(), []byte{0x01, 0x02}, true)
	tr.Exec(context.Background(), []byte{0x01, 0x02, 0x03}, true)

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.RequestCount)
	assert.Equal(t, uint64(5), stats.BytesWritten)
	assert.Equal(t, uint64(0), stats.ErrorCount)
}

func TestStatsCountsErrors(t *testing.T) {
	fb := &fakeBackend{readErr: errors.New("usb gone")}
	tr := New(fb)

	tr.Exec(context.Background(), []byte{0x01}, true)

	assert.Equal(t, uint64(1), tr.Stats().ErrorCount)
}

func TestExecPanicsOnReentrantCall(t *testing.T) {
	fb := &fakeBackend{readResp: []byte("SIGE\x00\x00")}
	tr := New(fb)
	tr.inFlight = true

	assert.Panics(t, func() {
		tr.Exec(context.Background(), []byte{0x01}, true)
	})
}
