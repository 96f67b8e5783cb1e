package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/theoneapp/theone-backend/internal/models"
	"gorm.io/gorm"
)

// ComputeExpiry returns the new VIP expiry for a grant of durationDays.
//
// The window extends from the current expiry when it is still in the
// future, otherwise from now, so stacked purchases accumulate and an
// expired window restarts. Days are added with calendar arithmetic (not a
// fixed 24h multiple) to stay correct across daylight-saving transitions,
// and the result is forced to 23:59:55 local time so every entitlement
// lapses at end of day.
func ComputeExpiry(now time.Time, durationDays int, currentExpiry *time.Time) time.Time {
	start := now
	if currentExpiry != nil && currentExpiry.After(now) {
		start = *currentExpiry
	}

	expiry := start.AddDate(0, 0, durationDays)
	return time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 23, 59, 55, 0, expiry.Location())
}

// EntitlementService extends accounts' VIP windows. vipExpireAt is
// monotonically non-decreasing across grants.
type EntitlementService struct{}

func NewEntitlementService() *EntitlementService {
	return &EntitlementService{}
}

// Grant marks the user VIP and extends the expiry by durationDays, writing
// through tx so callers can commit it together with the purchase record.
func (s *EntitlementService) Grant(tx *gorm.DB, user *models.User, durationDays int) error {
	current := user.VipExpireAt
	if current == nil {
		slog.Info("user has no vip expiry on record, extending from now", "user_id", user.ID)
	}

	expiry := ComputeExpiry(time.Now(), durationDays, current)
	if err := tx.Model(user).Updates(map[string]interface{}{
		"is_vip":        true,
		"vip_expire_at": expiry,
	}).Error; err != nil {
		return fmt.Errorf("failed to extend vip entitlement: %w", err)
	}

	user.IsVip = true
	user.VipExpireAt = &expiry
	return nil
}
