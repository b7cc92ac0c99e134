package syncer

import "errors"

// ErrCycleInProgress is returned by Cycle when another cycle holds the
// in-flight guard.
var ErrCycleInProgress = errors.New("syncer: cycle already in progress")

// SkipReason explains why a cycle did not deliver anything.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipInFlight        SkipReason = "in_flight"
	SkipEmptyQueue      SkipReason = "empty_queue"
	SkipUnauthenticated SkipReason = "unauthenticated"
	SkipNoIdentity      SkipReason = "no_identity"
	SkipOffline         SkipReason = "offline"
)
