package mutex

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/staykey-io/staykey/internal/database"
	"github.com/staykey-io/staykey/internal/models"
	"gorm.io/gorm/clause"
)

// Service hands out short-lived exclusive claims keyed by booking
// identifier, backed by the booking_mutexes table so the exclusion holds
// across worker processes. Claims expire at their TTL; a crashed holder
// only blocks the booking until then.
type Service struct {
	db *database.DB
}

// NewService creates a mutual-exclusion service
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// TryAcquire attempts to claim the key for ttl. It returns a release
// token on success and the empty string when someone else holds a live
// claim. An expired claim is taken over in place.
func (s *Service) TryAcquire(key string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := uuid.NewString()

	row := models.BookingMutex{
		Key:       key,
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}

	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return token, nil
	}

	// Row exists; take it over only if the previous claim has lapsed
	res = s.db.Model(&models.BookingMutex{}).
		Where("key = ? AND expires_at <= ?", key, now).
		Updates(map[string]interface{}{
			"token":      token,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return token, nil
	}

	return "", nil
}

// Release frees the claim if the caller still holds it. Releasing with a
// stale token (claim expired and taken over) is a harmless no-op.
func (s *Service) Release(key, token string) error {
	return s.db.Where("key = ? AND token = ?", key, token).
		Delete(&models.BookingMutex{}).Error
}

// StartSweeper periodically deletes expired claims so the table does not
// accumulate rows from crashed holders.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				res := s.db.Where("expires_at <= ?", time.Now().UTC()).
					Delete(&models.BookingMutex{})
				if res.Error != nil {
					log.Printf("⚠️ Mutex sweep failed: %v", res.Error)
				} else if res.RowsAffected > 0 {
					log.Printf("🧹 Swept %d expired booking mutexes", res.RowsAffected)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
