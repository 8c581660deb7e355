package action

import (
	"bytes"
	"context"
	"crypto/x509"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
)

// IdentifyResult reports the outcome of an Identify or Verify action.
type IdentifyResult struct {
	Matched bool
	Record  EnrollmentRecord
}

// Identify runs the Identify/Verify FSM (spec section 4.6.5) and, on a
// sensor match, searches the already-fetched gallery for the reported
// enrollment id.
func (c *Core) Identify(ctx context.Context, roots *x509.CertPool, expectedModel string, progress ProgressFunc) (IdentifyResult, error) {
	progress, done := c.trackAction("identify", progress)
	defer done()

	matched, reported, gallery, err := c.runCheck(ctx, roots, expectedModel, progress)
	if err != nil {
		return IdentifyResult{}, err
	}
	if !matched {
		return IdentifyResult{Matched: false}, nil
	}
	for _, rec := range gallery {
		if bytes.Equal(rec.EnrollmentID[:], reported.EnrollmentID[:]) {
			return IdentifyResult{Matched: true, Record: rec}, nil
		}
	}
	return IdentifyResult{Matched: false}, nil
}

// Verify runs the same FSM as Identify but compares the sensor's reported
// enrollment id against a single caller-provided candidate print, rather
// than searching the whole gallery.
func (c *Core) Verify(ctx context.Context, roots *x509.CertPool, expectedModel string, candidate EnrollmentRecord, progress ProgressFunc) (bool, error) {
	progress, done := c.trackAction("verify", progress)
	defer done()

	matched, reported, _, err := c.runCheck(ctx, roots, expectedModel, progress)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, nil
	}
	return bytes.Equal(reported.EnrollmentID[:], candidate.EnrollmentID[:]), nil
}

// runCheck drives SDCP_CONNECT through COMPLETE (spec section 4.6.5) and
// returns whether the sensor reported a match, the enrollment id it
// reported (zero value if not matched), and the gallery fetched at
// GET_ENROLLED_IDS.
func (c *Core) runCheck(ctx context.Context, roots *x509.CertPool, expectedModel string, progress ProgressFunc) (bool, EnrollmentRecord, []EnrollmentRecord, error) {
	if err := c.connectIfNeeded(ctx, roots, expectedModel, progress); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "GET_ENROLLED_IDS"})
	gallery, err := c.getEnrolledIDs(ctx)
	if err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "CHECK_ENROLLED_NUM"})
	if len(gallery) == 0 {
		return false, EnrollmentRecord{}, nil, errs.New(errs.DataNotFound, "no enrollments on device")
	}

	progress(ProgressEvent{Stage: "SENSOR_RESET"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorReset), true); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "SENSOR_IDENTIFY"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorIdentify), true); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "WAIT_FINGER"})
	if err := c.waitForFinger(ctx, c.Adapter.SensorHasFingerSuffix); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "SENSOR_CHECK"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorCheck), true); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "CHECK"})
	body := buildCheckBody(c.Adapter, gallery)
	resp, err := c.exec(ctx, frame.BuildRequest(body), true)
	if err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	matched, reported, err := c.classifyCheckResponse(resp)
	if err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "COMPLETE_SENSOR_RESET"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorReset), true); err != nil {
		return false, EnrollmentRecord{}, nil, err
	}

	progress(ProgressEvent{Stage: "COMPLETE"})
	return matched, reported, gallery, nil
}

// classifyCheckResponse interprets a CHECK response (spec section 4.6.5).
// On a match, the wire payload carries {mac, enrollment_id} in that
// order — backwards relative to SDCP's canonical (enrollment_id, mac)
// argument order — so the two fields are read in wire order here and
// passed to the verifier in its expected argument order rather than the
// order they appear on the wire.
func (c *Core) classifyCheckResponse(resp []byte) (bool, EnrollmentRecord, error) {
	if frame.ClassifyResponse(resp, nil, c.Adapter.IdentifyNotMatchSuffix) {
		return false, EnrollmentRecord{}, nil
	}
	if !frame.ClassifyResponse(resp, nil, c.Adapter.IdentifyMatchSuffix) {
		return false, EnrollmentRecord{}, errs.New(errs.Proto, "check response matched neither the match nor not-match suffix")
	}

	payload, err := frame.StripResponsePrefix(resp, c.Adapter.IdentifyResponsePrefixSize-len(frame.ResponsePrefix))
	if err != nil || len(payload) < 64 {
		return false, EnrollmentRecord{}, errs.New(errs.Proto, "check match response shorter than mac+enrollment_id")
	}

	var mac, hostNonce [32]byte
	var reported EnrollmentRecord
	copy(mac[:], payload[0:32])
	copy(reported.EnrollmentID[:], payload[32:64])

	if err := c.Session.VerifyAuthorizedIdentity(hostNonce, reported.EnrollmentID, mac); err != nil {
		return false, EnrollmentRecord{}, errs.New(errs.DataInvalid, "authorized identity mac verification failed")
	}
	return true, reported, nil
}
