package action

import (
	"context"
	"crypto/x509"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
)

// captureOutcome classifies one CAPTURE_READ_RESPONSE (spec section
// 4.6.4).
type captureOutcome int

const (
	capturePartialOK captureOutcome = iota
	captureOffCenter
	captureDirty
	captureUnknownFailure
)

// Enroll runs the full Enroll FSM (spec section 4.6.4): SDCP connect
// (skipped if a claim is live), duplicate check, a capture loop of up to
// max_enroll_stages stages, and commit. progress is called at every named
// state transition and on every capture retry, with a RetryHint set for
// off-center/dirty/unknown capture outcomes.
func (c *Core) Enroll(ctx context.Context, roots *x509.CertPool, expectedModel string, progress ProgressFunc) (EnrollmentRecord, error) {
	progress, done := c.trackAction("enroll", progress)
	defer done()

	if err := c.connectIfNeeded(ctx, roots, expectedModel, progress); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "GET_ENROLLED_IDS"})
	gallery, err := c.getEnrolledIDs(ctx)
	if err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "CHECK_ENROLLED_NUM"})
	if len(gallery) >= c.Adapter.MaxEnrollNum {
		return EnrollmentRecord{}, errs.New(errs.DataFull, "device is at its maximum enrollment capacity")
	}

	progress(ProgressEvent{Stage: "SENSOR_RESET"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorReset), true); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "SENSOR_ENROLL"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorEnroll), true); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "WAIT_FINGER"})
	if err := c.waitForFinger(ctx, c.Adapter.SensorHasFingerSuffix); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "SENSOR_CHECK"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorCheck), true); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "CHECK"})
	checkBody := buildCheckBody(c.Adapter, gallery)
	checkResp, err := c.exec(ctx, frame.BuildRequest(checkBody), true)
	if err != nil {
		return EnrollmentRecord{}, err
	}
	if !frame.ClassifyResponse(checkResp, nil, c.Adapter.CheckNotYetEnrolledSuffix) {
		return EnrollmentRecord{}, errs.New(errs.DataDup, "finger already enrolled")
	}

	progress(ProgressEvent{Stage: "START"})
	startResp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.EnrollStarting), true)
	if err != nil {
		return EnrollmentRecord{}, err
	}
	if !frame.ClassifyResponse(startResp, nil, c.Adapter.EnrollStartingSuffix) {
		return EnrollmentRecord{}, errs.New(errs.Proto, "enroll start response did not match the expected suffix")
	}
	noncePayload, err := frame.StripResponsePrefix(startResp, c.Adapter.EnrollStartingResponsePrefixSize-len(frame.ResponsePrefix))
	if err != nil || len(noncePayload) < 32 {
		return EnrollmentRecord{}, errs.New(errs.Proto, "enroll start response too short for a 32-byte nonce")
	}
	var nonce [32]byte
	copy(nonce[:], noncePayload[:32])
	c.Session.SetEnrollmentNonce(nonce)
	defer c.Session.ClearEnrollmentNonce()

	stagesComplete := 0
	for stagesComplete < c.Adapter.MaxEnrollStages {
		progress(ProgressEvent{Stage: "CAPTURE_SENSOR_RESET", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages})
		if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorReset), true); err != nil {
			return EnrollmentRecord{}, err
		}

		progress(ProgressEvent{Stage: "CAPTURE_SENSOR_START_CAPTURE", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages})
		if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorStartCapture), true); err != nil {
			return EnrollmentRecord{}, err
		}

		progress(ProgressEvent{Stage: "CAPTURE_WAIT_FINGER", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages})
		if err := c.waitForFinger(ctx, c.Adapter.SensorHasFingerSuffix); err != nil {
			return EnrollmentRecord{}, err
		}

		progress(ProgressEvent{Stage: "CAPTURE_POST_WAIT_FINGER", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages})
		if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.CapturePostWaitFinger), true); err != nil {
			return EnrollmentRecord{}, err
		}

		progress(ProgressEvent{Stage: "CAPTURE_READ_RESPONSE", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages})
		readResp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.ReadCapture), true)
		if err != nil {
			return EnrollmentRecord{}, err
		}

		switch classifyCaptureResponse(c, readResp) {
		case capturePartialOK:
			stagesComplete++
		case captureOffCenter:
			progress(ProgressEvent{Stage: "CAPTURE_RETRY", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages, Hint: RetryHintCenterFinger})
		case captureDirty:
			progress(ProgressEvent{Stage: "CAPTURE_RETRY", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages, Hint: RetryHintCleanSensor})
		case captureUnknownFailure:
			progress(ProgressEvent{Stage: "CAPTURE_RETRY", StagesComplete: stagesComplete, StagesTotal: c.Adapter.MaxEnrollStages, Hint: RetryHintRemoveFinger})
		}
	}

	enrollmentID := c.Session.GenerateEnrollmentID(nonce)
	record := EnrollmentRecord{EnrollmentID: enrollmentID}

	progress(ProgressEvent{Stage: "COMMIT_START"})
	commitStartResp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.CommitStarting), true)
	if err != nil {
		return EnrollmentRecord{}, err
	}
	if !frame.ClassifyResponse(commitStartResp, nil, c.Adapter.CommitSuccessSuffix) {
		return EnrollmentRecord{}, errs.New(errs.Proto, "commit start response did not match the expected suffix")
	}

	progress(ProgressEvent{Stage: "COMMIT"})
	commitBody := append(append([]byte(nil), c.Adapter.NewPrintPrefix...), enrollmentID[:]...)
	commitResp, err := c.exec(ctx, frame.BuildRequest(commitBody), true)
	if err != nil {
		return EnrollmentRecord{}, err
	}
	if !frame.ClassifyResponse(commitResp, nil, c.Adapter.CommitSuccessSuffix) {
		return EnrollmentRecord{}, errs.New(errs.Proto, "commit response did not match the expected success suffix")
	}

	progress(ProgressEvent{Stage: "COMMIT_SENSOR_RESET"})
	if _, err := c.exec(ctx, frame.BuildRequest(c.Adapter.SensorReset), true); err != nil {
		return EnrollmentRecord{}, err
	}

	progress(ProgressEvent{Stage: "COMPLETE"})
	return record, nil
}

func classifyCaptureResponse(c *Core, resp []byte) captureOutcome {
	if frame.ClassifyResponse(resp, nil, c.Adapter.ReadSuccessSuffix) {
		return capturePartialOK
	}
	if frame.ClassifyResponse(resp, nil, c.Adapter.ReadOffCenterSuffix) {
		return captureOffCenter
	}
	if payload, err := responsePayload(resp); err == nil && frame.ClassifyResponse(payload, c.Adapter.ReadDirtyPrefix, nil) {
		return captureDirty
	}
	return captureUnknownFailure
}
