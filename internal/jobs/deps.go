package jobs

import (
	"time"

	"github.com/staykey-io/staykey/internal/lockprovider"
	"github.com/staykey-io/staykey/internal/models"
)

// Store is the slice of the booking store the processors need. Lookups
// that miss return store.ErrNotFound.
type Store interface {
	GetBooking(id string) (*models.Booking, error)
	GetLock(id string) (*models.Lock, error)
	IsLockMappedToUnit(unitID, lockID string) (bool, error)
	UpsertCredential(c *models.Credential) error
	ActiveCredentialsForBooking(bookingID string) ([]models.Credential, error)
	MarkCredentialRevoked(id, actor string, at time.Time) error
	Audit(action, entityType, entityID, actor string, details models.JSONB)
}

// Mutex serializes job execution per booking across worker processes
type Mutex interface {
	TryAcquire(key string, ttl time.Duration) (string, error)
	Release(key, token string) error
}

// Providers resolves a lock's vendor code to its provider implementation.
// *lockprovider.Registry satisfies this.
type Providers interface {
	Get(code string) (lockprovider.ProviderInterface, error)
}

// IssuedPin carries the plaintext code out of a successful generate run
// for one-time delivery to the guest. It is never persisted.
type IssuedPin struct {
	CredentialID string
	BookingID    string
	LockID       string
	Code         string
	ValidFrom    time.Time
	ValidTo      time.Time
}

// Deliverer receives freshly issued codes (websocket feed, mail hook).
// Delivery is fire-and-forget; a failed delivery never fails the job.
type Deliverer interface {
	DeliverPin(issued IssuedPin)
}

// Config holds the processors' runtime knobs
type Config struct {
	MutexTTL      time.Duration
	VendorTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MutexTTL <= 0 {
		c.MutexTTL = 60 * time.Second
	}
	if c.VendorTimeout <= 0 {
		c.VendorTimeout = 30 * time.Second
	}
}
