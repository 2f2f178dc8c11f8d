package radio

import (
	"errors"
	"fmt"
	"sync"
)

// Scan failure codes, mirroring what the OS scanner reports.
const (
	ScanFailedAlreadyStarted                = 1
	ScanFailedApplicationRegistrationFailed = 2
	ScanFailedInternalError                 = 3
	ScanFailedFeatureUnsupported            = 4
	ScanFailedOutOfHardwareResources        = 5
)

// Advertise failure codes.
const (
	AdvertiseFailedDataTooLarge       = 1
	AdvertiseFailedTooManyAdvertisers = 2
	AdvertiseFailedAlreadyStarted     = 3
	AdvertiseFailedInternalError      = 4
)

// ScanError is a scan-start failure reported by the radio.
type ScanError struct {
	Code int
}

func (e *ScanError) Error() string {
	switch e.Code {
	case ScanFailedAlreadyStarted:
		return "scan failed: already started"
	case ScanFailedApplicationRegistrationFailed:
		return "scan failed: application registration failed"
	case ScanFailedInternalError:
		return "scan failed: internal error"
	case ScanFailedFeatureUnsupported:
		return "scan failed: feature unsupported"
	case ScanFailedOutOfHardwareResources:
		return "scan failed: out of hardware resources"
	default:
		return fmt.Sprintf("scan failed: unknown error %d", e.Code)
	}
}

// AdvertiseError is an advertise-start failure reported by the radio.
type AdvertiseError struct {
	Code int
}

func (e *AdvertiseError) Error() string {
	switch e.Code {
	case AdvertiseFailedDataTooLarge:
		return "advertise failed: data too large"
	case AdvertiseFailedTooManyAdvertisers:
		return "advertise failed: too many advertisers"
	case AdvertiseFailedAlreadyStarted:
		return "advertise failed: already started"
	case AdvertiseFailedInternalError:
		return "advertise failed: internal error"
	default:
		return fmt.Sprintf("advertise failed: unknown error %d", e.Code)
	}
}

// IsScanRegistrationFailure reports the unrecoverable scanner-registration
// fault that must not be retried.
func IsScanRegistrationFailure(err error) bool {
	var se *ScanError
	return errors.As(err, &se) && se.Code == ScanFailedApplicationRegistrationFailed
}

// IsAdvertiseAlreadyStarted reports the terminal "already running" advertise
// failure.
func IsAdvertiseAlreadyStarted(err error) bool {
	var ae *AdvertiseError
	return errors.As(err, &ae) && ae.Code == AdvertiseFailedAlreadyStarted
}

// FaultPlan injects radio faults for tests. Each queued code is consumed by
// one start attempt; an empty queue means the attempt succeeds.
type FaultPlan struct {
	mu              sync.Mutex
	ScanFaults      []int
	AdvertiseFaults []int
	ConnectFaults   int
}

func (fp *FaultPlan) nextScanFault() int {
	if fp == nil {
		return 0
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.ScanFaults) == 0 {
		return 0
	}
	code := fp.ScanFaults[0]
	fp.ScanFaults = fp.ScanFaults[1:]
	return code
}

func (fp *FaultPlan) nextAdvertiseFault() int {
	if fp == nil {
		return 0
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.AdvertiseFaults) == 0 {
		return 0
	}
	code := fp.AdvertiseFaults[0]
	fp.AdvertiseFaults = fp.AdvertiseFaults[1:]
	return code
}

func (fp *FaultPlan) nextConnectFault() bool {
	if fp == nil {
		return false
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.ConnectFaults == 0 {
		return false
	}
	fp.ConnectFaults--
	return true
}
