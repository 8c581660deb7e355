package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
)

var fingerSuffix = []byte{0x01}

type scriptedReader struct {
	responses [][]byte
	errs      []error
	calls     int
}

func (r *scriptedReader) InterruptRead(ctx context.Context, buf []byte) (int, error) {
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return 0, r.errs[i]
	}
	if i >= len(r.responses) {
		return copy(buf, []byte("SIGE\x00")), nil
	}
	return copy(buf, r.responses[i]), nil
}

func sigeWith(suffix []byte) []byte {
	return append(append([]byte{}, []byte("SIGE\x00\x00")...), suffix...)
}

func TestWaitSucceedsOnFingerPresent(t *testing.T) {
	r := &scriptedReader{responses: [][]byte{
		sigeWith([]byte{0x00}),
		sigeWith(fingerSuffix),
	}}
	w := NewWaiter(r).WithPollInterval(time.Millisecond)

	err := w.Wait(context.Background(), time.Second, fingerSuffix)
	assert.NoError(t, err)
}

func TestWaitTimesOutWhenNeverPresent(t *testing.T) {
	r := &scriptedReader{}
	w := NewWaiter(r).WithPollInterval(time.Millisecond)

	err := w.Wait(context.Background(), 10*time.Millisecond, fingerSuffix)
	require.Error(t, err)
	assert.Equal(t, errs.Timeout, errs.KindOf(err))
}

func TestWaitCancellationReturnsCancelledKind(t *testing.T) {
	r := &scriptedReader{}
	w := NewWaiter(r).WithPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Wait(ctx, time.Second, fingerSuffix)
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))
}

func TestWaitTreatsTransferErrorAsIO(t *testing.T) {
	r := &scriptedReader{errs: []error{errors.New("usb stall")}}
	w := NewWaiter(r).WithPollInterval(time.Millisecond)

	err := w.Wait(context.Background(), time.Second, fingerSuffix)
	require.Error(t, err)
	assert.Equal(t, errs.IO, errs.KindOf(err))
}
