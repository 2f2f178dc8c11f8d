package ble

import "time"

// OffLink GATT addressing: one fixed service, one fixed message
// characteristic (write + notify), used uniformly by both roles.
const (
	MessageServiceUUID = "6F4C0001-8E2A-4B7D-9C53-1D0A7F3E6B21"
	MessageCharUUID    = "6F4C0002-8E2A-4B7D-9C53-1D0A7F3E6B21"
)

// NamePrefix identifies OffLink peers in fallback discovery. Matching is
// case-insensitive.
const NamePrefix = "OffLink"

// Default tuning. Tests override these through the config structs.
const (
	DefaultScanRetryUnit   = 200 * time.Millisecond
	DefaultSweepInterval   = 250 * time.Millisecond
	DefaultAdvertiseUnit   = 100 * time.Millisecond
	DefaultSettleDelay     = 150 * time.Millisecond
	DefaultResumeDelay     = 100 * time.Millisecond
	ScanStartAttempts      = 3
	AdvertiseStartAttempts = 5
	ServerResumeAttempts   = 3
)
