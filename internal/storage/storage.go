package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
)

// ErrInFlight is returned when an acquisition for the same file name is
// already claimed by an instance. Two transfers must never share a staging
// path, so the second request is rejected rather than queued.
var ErrInFlight = errors.New("acquisition already in flight for this file name")

// Acquisition statuses.
const (
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AcquisitionRecord represents one acquisition attempt and its outcome.
type AcquisitionRecord struct {
	FileName      string
	ResourceURL   string
	Policy        string
	FinalLocation string
	Handoff       bool
	Status        string
	FailureReason string
	RequestedAt   string
	CompletedAt   string
	LockedBy      string
}

// AcquisitionReadRepository reads acquisition history.
type AcquisitionReadRepository interface {
	GetAcquisitions() ([]AcquisitionRecord, error)
	GetCompletedBefore(cutoff string) ([]AcquisitionRecord, error)
}

// AcquisitionWriteRepository tracks in-flight claims and outcomes.
type AcquisitionWriteRepository interface {
	// Claim atomically marks fileName as in flight for instanceID.
	// Returns ErrInFlight when another claim holds the name.
	Claim(fileName, resourceURL, policy, instanceID string) error
	// Complete records a successful placement and releases the claim.
	Complete(fileName, finalLocation string, handoff bool) error
	// Fail records a failed acquisition and releases the claim.
	Fail(fileName, reason string) error
}

// AcquisitionRepository combines read and write access.
type AcquisitionRepository interface {
	AcquisitionReadRepository
	AcquisitionWriteRepository
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random)
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)
	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
