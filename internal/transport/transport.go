// Package transport drives one request/response exchange at a time over a
// device's bulk OUT/IN endpoints (spec section 4.2). The USB backend is
// built on github.com/google/gousb, modeled directly on the bulk
// claim/endpoint/read-with-context pattern used against ASIC hardware
// elsewhere in this codebase's lineage.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
)

// Stats is a read-only snapshot of cumulative transport activity, exposed
// through the optional status introspection endpoint (spec section 4.10).
type Stats struct {
	RequestCount uint64
	BytesWritten uint64
	BytesRead    uint64
	ErrorCount   uint64
	PeakLatency  time.Duration
}

// Backend is the minimal bulk-transfer surface the Transport FSM needs. The
// USB backend below implements it against real hardware; tests substitute
// a fake.
type Backend interface {
	BulkWrite(ctx context.Context, data []byte) (int, error)
	BulkRead(ctx context.Context, buf []byte) (int, error)
}

// state is the Transport FSM's two public states.
type state int

const (
	stateSend state = iota
	stateGet
)

// Result carries the outcome handed to on_complete (spec section 4.2):
// either the response payload, or a terminal error already classified by
// errs.Kind.
type Result struct {
	Response []byte
	Err      error
}

// Transport runs the single-slot exec contract over one Backend. Only one
// exec may be in flight at a time; a second call while one is outstanding
// is a programming error and panics rather than silently queuing, per the
// single-slot assertion the core requires.
type Transport struct {
	backend      Backend
	readSize     int
	readTimeout  time.Duration
	writeTimeout time.Duration
	inFlight     bool

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithReadSize sets the buffer size used for the CMD_GET bulk-IN read.
func WithReadSize(n int) Option {
	return func(t *Transport) { t.readSize = n }
}

// WithTimeouts overrides the per-stage read/write timeouts.
func WithTimeouts(write, read time.Duration) Option {
	return func(t *Transport) {
		t.writeTimeout = write
		t.readTimeout = read
	}
}

// New builds a Transport over backend with spec-reasonable defaults: a
// 2048-byte read buffer and a 2s timeout per stage.
func New(backend Backend, opts ...Option) *Transport {
	t := &Transport{
		backend:      backend,
		readSize:     2048,
		readTimeout:  2 * time.Second,
		writeTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Exec performs one request/response exchange: CMD_SEND (skipped if
// payload is nil) then CMD_GET. shortIsError controls whether a read
// shorter than the read-prefix length produced by frame.HasResponsePrefix
// fails with PROTO; callers outside the Finger-presence FSM should pass
// true (spec section 4.2's default), since only interrupt polling treats
// a short read as expected.
//
// Exec blocks until the exchange completes or ctx is done; there is no
// background goroutine, matching the single-threaded cooperative
// scheduling model.
func (t *Transport) Exec(ctx context.Context, payload []byte, shortIsError bool) Result {
	if t.inFlight {
		panic("transport: Exec called while a previous exchange is still in flight")
	}
	t.inFlight = true
	start := timeNow()
	defer func() { t.inFlight = false }()

	result := t.exec(ctx, payload, shortIsError)
	t.recordStats(result, len(payload), start)
	return result
}

func (t *Transport) exec(ctx context.Context, payload []byte, shortIsError bool) Result {
	// CMD_SEND (skipped if payload is nil).
	if payload != nil {
		sendCtx, cancel := context.WithTimeout(ctx, t.writeTimeout)
		n, err := t.backend.BulkWrite(sendCtx, payload)
		cancel()
		if err != nil {
			return Result{Err: classifyIOErr(err, "bulk write")}
		}
		if n != len(payload) {
			return Result{Err: errs.New(errs.IO, fmt.Sprintf("short bulk write: wrote %d of %d bytes", n, len(payload)))}
		}
	}

	// CMD_GET.
	readCtx, cancel := context.WithTimeout(ctx, t.readTimeout)
	buf := make([]byte, t.readSize)
	n, err := t.backend.BulkRead(readCtx, buf)
	cancel()
	if err != nil {
		return Result{Err: classifyIOErr(err, "bulk read")}
	}

	resp := buf[:n]
	if shortIsError && !frame.HasResponsePrefix(resp) {
		return Result{Err: errs.New(errs.Proto, "response shorter than read-prefix length or missing SIGE prefix")}
	}
	return Result{Response: resp}
}

// recordStats folds one Exec outcome into the cumulative counters exposed
// by Stats.
func (t *Transport) recordStats(result Result, sentBytes int, start time.Time) {
	elapsed := timeNow().Sub(start)

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.RequestCount++
	t.stats.BytesWritten += uint64(sentBytes)
	t.stats.BytesRead += uint64(len(result.Response))
	if result.Err != nil {
		t.stats.ErrorCount++
	}
	if elapsed > t.stats.PeakLatency {
		t.stats.PeakLatency = elapsed
	}
}

// Stats returns a snapshot of cumulative transport activity, safe to call
// concurrently with Exec (e.g. from the status introspection endpoint).
func (t *Transport) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

// timeNow is a seam so latency measurement can be exercised without
// depending on wall-clock jitter in tests; production always uses
// time.Now.
var timeNow = time.Now

func classifyIOErr(err error, op string) error {
	if err == context.DeadlineExceeded {
		return errs.Wrap(errs.Timeout, op+" timed out", err)
	}
	return errs.Wrap(errs.IO, op+" failed", err)
}

// USBBackend implements Backend against a real gousb device, claimed
// exactly once for the device's lifetime.
type USBBackend struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// OpenUSBBackend opens the device with the given VID/PID and claims its
// bulk endpoints, following the same open/claim/endpoint sequence as
// direct-USB ASIC access elsewhere in this lineage.
func OpenUSBBackend(vid, pid gousb.ID, epOut, epIn uint8) (*USBBackend, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, errs.Wrap(errs.IO, "open USB device", err)
	}
	if device == nil {
		ctx.Close()
		return nil, errs.New(errs.IO, fmt.Sprintf("USB device not found (VID:0x%04x PID:0x%04x)", vid, pid))
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.IO, "set USB config", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.IO, "claim USB interface", err)
	}

	out, err := intf.OutEndpoint(int(epOut))
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.IO, "open bulk OUT endpoint", err)
	}

	in, err := intf.InEndpoint(int(epIn))
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.IO, "open bulk IN endpoint", err)
	}

	return &USBBackend{ctx: ctx, device: device, config: config, intf: intf, epOut: out, epIn: in}, nil
}

// InterruptBackend opens an interrupt-IN endpoint on the same already-
// claimed interface this USBBackend's bulk endpoints live on, for the
// Finger-presence FSM (spec section 4.3). It must be called at most once
// per USBBackend, before Close.
func (b *USBBackend) InterruptBackend(epAddr uint8) (*USBInterruptBackend, error) {
	return NewUSBInterruptBackend(b.intf, epAddr)
}

// Close releases the interface, config, device, and USB context in order.
func (b *USBBackend) Close() error {
	if b.intf != nil {
		b.intf.Close()
	}
	if b.config != nil {
		b.config.Close()
	}
	if b.device != nil {
		b.device.Close()
	}
	if b.ctx != nil {
		b.ctx.Close()
	}
	return nil
}

func (b *USBBackend) BulkWrite(ctx context.Context, data []byte) (int, error) {
	return b.epOut.WriteContext(ctx, data)
}

func (b *USBBackend) BulkRead(ctx context.Context, buf []byte) (int, error) {
	return b.epIn.ReadContext(ctx, buf)
}

// InterruptBackend is the narrower surface the Finger-presence FSM needs:
// a single interrupt-IN endpoint, polled repeatedly.
type InterruptBackend interface {
	InterruptRead(ctx context.Context, buf []byte) (int, error)
}

// USBInterruptBackend adapts a claimed gousb.InEndpoint (interrupt
// transfer type) to InterruptBackend.
type USBInterruptBackend struct {
	ep *gousb.InEndpoint
}

// NewUSBInterruptBackend wraps an already-opened interrupt-IN endpoint.
func NewUSBInterruptBackend(intf *gousb.Interface, epAddr uint8) (*USBInterruptBackend, error) {
	ep, err := intf.InEndpoint(int(epAddr))
	if err != nil {
		return nil, errs.Wrap(errs.IO, "open interrupt IN endpoint", err)
	}
	return &USBInterruptBackend{ep: ep}, nil
}

func (b *USBInterruptBackend) InterruptRead(ctx context.Context, buf []byte) (int, error) {
	return b.ep.ReadContext(ctx, buf)
}
