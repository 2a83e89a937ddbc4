// AngelaMos | 2026
// notify.go

package binding

import (
	"context"
	"log/slog"

	"github.com/soundvault/auth-backend/internal/geo"
)

// Notifier delivers the two security notifications the guard can raise.
// Delivery failures are the implementation's problem to log; the guard
// never fails a request because a notification could not be sent.
type Notifier interface {
	NotifyConcurrentAccess(
		ctx context.Context,
		userID, currentIP string,
		concurrentIPs []string,
		userAgent string,
	) error
	NotifyLocationChange(
		ctx context.Context,
		userID, ip string,
		location geo.Location,
		userAgent string,
	) error
}

// LogNotifier is the default delivery: structured security log lines.
// Real transports (email, push) plug in behind the same interface.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyConcurrentAccess(
	_ context.Context,
	userID, currentIP string,
	concurrentIPs []string,
	userAgent string,
) error {
	n.logger.Error("concurrent access notification",
		"user_id", userID,
		"current_ip", currentIP,
		"concurrent_ips", concurrentIPs,
		"user_agent", userAgent,
	)
	return nil
}

func (n *LogNotifier) NotifyLocationChange(
	_ context.Context,
	userID, ip string,
	location geo.Location,
	userAgent string,
) error {
	n.logger.Warn("suspicious location notification",
		"user_id", userID,
		"ip", ip,
		"country", location.CountryCode,
		"city", location.City,
		"user_agent", userAgent,
	)
	return nil
}
