// ABOUTME: Error values returned by the cluster lifecycle manager
// ABOUTME: Sentinels for rejected requests and a typed wrapper for facility failures
package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidMembers means none of the requested descriptions resolved to a device
	ErrNoValidMembers = errors.New("no valid cluster members")

	// ErrTooFewMembers means fewer than two distinct descriptions were requested
	ErrTooFewMembers = errors.New("a cluster needs at least two members")

	// ErrNotCluster means an identity expected to be a cluster is something else
	ErrNotCluster = errors.New("not a cluster")

	// ErrNotDevice means an identity expected to be a physical sink is something else
	ErrNotDevice = errors.New("not a physical sink")

	// ErrMixFacility matches every *MixFacilityError with errors.Is
	ErrMixFacility = errors.New("mixing facility error")
)

// MixFacilityError reports a failed call into the mixing facility
type MixFacilityError struct {
	Op  string
	Err error
}

func (e *MixFacilityError) Error() string {
	return fmt.Sprintf("mixing facility %s failed: %v", e.Op, e.Err)
}

func (e *MixFacilityError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMixFacility) true for any facility error
func (e *MixFacilityError) Is(target error) bool {
	return target == ErrMixFacility
}
