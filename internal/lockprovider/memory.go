package lockprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is the recording no-op implementation used in
// development and tests. It validates like a real vendor, remembers every
// call, and can be told to fail to exercise the retry paths.
type MemoryProvider struct {
	mu      sync.Mutex
	pins    map[string]PinRequest // vendorRef -> request
	created []PinRequest
	revoked []string // keys passed to RevokePin

	// FailCreates / FailRevokes make the next N calls fail transiently
	FailCreates int
	FailRevokes int
}

// NewMemoryProvider creates a recording in-memory provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		pins: make(map[string]PinRequest),
	}
}

// Code returns the registry code
func (p *MemoryProvider) Code() string { return "memory" }

// Name returns the display name
func (p *MemoryProvider) Name() string { return "In-Memory Lock Provider" }

// CreateTimedPin records the code and returns a fresh vendor reference
func (p *MemoryProvider) CreateTimedPin(ctx context.Context, req *PinRequest) (*PinResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVendorUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailCreates > 0 {
		p.FailCreates--
		return nil, fmt.Errorf("%w: simulated create failure", ErrVendorUnavailable)
	}

	ref := "mem-" + uuid.NewString()
	p.pins[ref] = *req
	p.created = append(p.created, *req)

	return &PinResponse{VendorRef: ref, CreatedAt: time.Now().UTC()}, nil
}

// RevokePin records the revocation. Unknown references are accepted: the
// vendor-side code may already be gone, which is the desired end state.
func (p *MemoryProvider) RevokePin(ctx context.Context, lockID, vendorRef string) error {
	if lockID == "" {
		return fmt.Errorf("lock ID cannot be empty")
	}
	if vendorRef == "" {
		return fmt.Errorf("vendor reference cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVendorUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailRevokes > 0 {
		p.FailRevokes--
		return fmt.Errorf("%w: simulated revoke failure", ErrVendorUnavailable)
	}

	delete(p.pins, vendorRef)
	p.revoked = append(p.revoked, vendorRef)
	return nil
}

// CreatedPins returns a copy of every recorded create call
func (p *MemoryProvider) CreatedPins() []PinRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PinRequest, len(p.created))
	copy(out, p.created)
	return out
}

// RevokedRefs returns a copy of every recorded revoke key
func (p *MemoryProvider) RevokedRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.revoked))
	copy(out, p.revoked)
	return out
}
