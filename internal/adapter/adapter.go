// Package adapter holds per-device-variant constants for the EGIS/SDCP
// command protocol: command byte strings, response classification
// prefixes/suffixes, and fixed payload offsets (spec section 4.7). These
// are data, not algorithms — the algorithmic state machines that consume
// them live in internal/action.
package adapter

// CheckFamily distinguishes the two known layouts of the identify/verify
// "CHECK" command body (spec section 4.6.5), a property of the USB VID/PID
// a libfprint-style frontend would select alongside this adapter.
type CheckFamily int

const (
	CheckFamilyType1 CheckFamily = iota
	CheckFamilyType2
)

// MaxSupportedDeleteCount is the upper bound for which the delete/check
// size-counter encoding (spec section 4.6.3) is known to be correct. The
// core refuses to build delete/clear commands above this count.
const MaxSupportedDeleteCount = 14

// Adapter bundles the command constants and response patterns for one
// device family (e.g. one USB VID/PID pairing).
type Adapter struct {
	Name string

	// Capability flags.
	SupportsReconnect    bool
	ClaimExpirationSecs  int64
	MaxEnrollStages      int
	MaxEnrollNum         int // EGISMOC_MAX_ENROLL_NUM for this family
	CheckFamily          CheckFamily

	// USB endpoint addresses.
	EndpointBulkOut  uint8
	EndpointBulkIn   uint8
	EndpointInterrupt uint8

	// Vendor command bodies (sent as Framing payloads).
	List                  []byte
	DeletePrefix          []byte
	CheckPrefixType1      []byte
	CheckPrefixType2      []byte
	CheckSuffix           []byte
	SensorReset           []byte
	SensorEnroll          []byte
	SensorCheck           []byte
	SensorIdentify        []byte
	SensorStartCapture    []byte
	CapturePostWaitFinger []byte
	ReadCapture           []byte
	EnrollStarting        []byte
	CommitStarting        []byte
	NewPrintPrefix        []byte
	FwVersion             []byte
	ConnectPrefix         []byte
	ConnectSuffix         []byte

	// Response classification prefixes/suffixes.
	SensorHasFingerSuffix    []byte
	SDCPConnectSuccessSuffix []byte
	DeleteSuccessPrefix      []byte
	ReadSuccessSuffix        []byte
	ReadOffCenterSuffix      []byte
	ReadDirtyPrefix          []byte
	EnrollStartingSuffix     []byte
	CommitSuccessSuffix      []byte
	CheckNotYetEnrolledSuffix []byte
	IdentifyMatchSuffix      []byte
	IdentifyNotMatchSuffix   []byte
	FwVersionSuffix          []byte

	// Fixed response prefix lengths to step past before parsing a payload.
	ConnectResponsePrefixSize       int
	ListResponsePrefixSize          int
	EnrollStartingResponsePrefixSize int
	IdentifyResponsePrefixSize     int
}

// CheckPrefix returns the check_prefix constant for this adapter's family.
func (a *Adapter) CheckPrefix() []byte {
	if a.CheckFamily == CheckFamilyType2 {
		return a.CheckPrefixType2
	}
	return a.CheckPrefixType1
}

// DefaultEgisMOC returns the constants for the common "egismoc" family
// (e.g. ELAN/EgisTec match-on-chip sensors such as the 2716/0638
// pairing), with the documented default timings and capacities from
// spec.md section 4.6.3 and section 2's Device Adapter responsibilities.
//
// Byte values below are placeholders for constants that a concrete
// device-family binding supplies; they are internally consistent (equal
// prefixes/suffixes line up between request builders and response
// classifiers in internal/action) but are not claimed to match any one
// physical sensor's exact wire bytes.
func DefaultEgisMOC() *Adapter {
	return &Adapter{
		Name:                "egismoc-generic",
		SupportsReconnect:   true,
		ClaimExpirationSecs: 259200, // 72h, conservative default TTL
		MaxEnrollStages:     15,
		MaxEnrollNum:        10,
		CheckFamily:         CheckFamilyType1,

		EndpointBulkOut:   0x01,
		EndpointBulkIn:    0x81,
		EndpointInterrupt: 0x83,

		List:                  []byte{0x08, 0x00},
		DeletePrefix:          []byte{0x09, 0x00},
		CheckPrefixType1:      []byte{0x06, 0x00},
		CheckPrefixType2:      []byte{0x06, 0x01},
		CheckSuffix:           []byte{0x00, 0x00},
		SensorReset:           []byte{0x01, 0x00},
		SensorEnroll:          []byte{0x02, 0x01},
		SensorCheck:           []byte{0x02, 0x02},
		SensorIdentify:        []byte{0x02, 0x03},
		SensorStartCapture:    []byte{0x03, 0x00},
		CapturePostWaitFinger: []byte{0x03, 0x01},
		ReadCapture:           []byte{0x04, 0x00},
		EnrollStarting:        []byte{0x05, 0x00},
		CommitStarting:        []byte{0x05, 0x01},
		NewPrintPrefix:        []byte{0x05, 0x02},
		FwVersion:             []byte{0x00, 0x01},
		ConnectPrefix:         []byte{0x0A, 0x00},
		ConnectSuffix:         []byte{0x00, 0x00},

		SensorHasFingerSuffix:     []byte{0x01},
		SDCPConnectSuccessSuffix:  []byte{0x00, 0x00},
		DeleteSuccessPrefix:       []byte{0x09, 0x00, 0x00, 0x00},
		ReadSuccessSuffix:         []byte{0x00, 0x00},
		ReadOffCenterSuffix:       []byte{0x00, 0x02},
		ReadDirtyPrefix:           []byte{0x04, 0x00, 0x00, 0x03},
		EnrollStartingSuffix:      []byte{0x00, 0x00},
		CommitSuccessSuffix:       []byte{0x00, 0x00},
		CheckNotYetEnrolledSuffix: []byte{0x00, 0x03},
		IdentifyMatchSuffix:       []byte{0x00, 0x00},
		IdentifyNotMatchSuffix:    []byte{0x00, 0x01},
		FwVersionSuffix:           []byte{0x00, 0x00},

		ConnectResponsePrefixSize:        6,
		ListResponsePrefixSize:           6,
		EnrollStartingResponsePrefixSize: 6,
		IdentifyResponsePrefixSize:       6,
	}
}
