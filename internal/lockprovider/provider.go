package lockprovider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrVendorUnavailable wraps transient vendor communication failures.
// Callers classify anything matching it as retriable.
var ErrVendorUnavailable = errors.New("vendor unavailable")

// PinRequest contains everything needed to install a timed code on a lock
type PinRequest struct {
	LockID    string    `json:"lockId"`    // external device identifier
	Code      string    `json:"code"`      // plaintext numeric code
	ValidFrom time.Time `json:"validFrom"` // start of validity window
	ValidTo   time.Time `json:"validTo"`   // end of validity window
}

// PinResponse is the vendor's answer to a created code
type PinResponse struct {
	VendorRef string    `json:"vendorRef"` // opaque token for later revocation
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the request shape before any wire traffic
func (r *PinRequest) Validate() error {
	if r.LockID == "" {
		return fmt.Errorf("lock ID cannot be empty")
	}
	if r.Code == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if !r.ValidTo.After(r.ValidFrom) {
		return fmt.Errorf("validity window is empty: %s >= %s",
			r.ValidFrom.Format(time.RFC3339), r.ValidTo.Format(time.RFC3339))
	}
	return nil
}

// ProviderInterface is the two-operation contract every lock vendor
// integration implements. Both calls may fail on validation violations or
// vendor communication errors; communication errors should wrap
// ErrVendorUnavailable so processors can classify them as transient.
type ProviderInterface interface {
	// Code returns the unique registry code for this provider (e.g. "memory", "nuki")
	Code() string

	// Name returns the human-readable name of the provider
	Name() string

	// CreateTimedPin installs a numeric code valid within the window and
	// returns the vendor's reference token for it.
	CreateTimedPin(ctx context.Context, req *PinRequest) (*PinResponse, error)

	// RevokePin removes a code, addressed by the vendor reference token
	// returned from CreateTimedPin. When that token was never recorded
	// (degraded writes), callers pass the local credential ID instead;
	// adapters cannot map it to an installed code and should fall back
	// to clearing whatever codes they hold for the lock, best-effort.
	RevokePin(ctx context.Context, lockID, vendorRef string) error
}
