// AngelaMos | 2026
// entity.go

package binding

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soundvault/auth-backend/internal/geo"
)

type IPHistoryEntry struct {
	IP        string       `json:"ip"`
	Timestamp time.Time    `json:"timestamp"`
	Location  geo.Location `json:"location"`
	UserAgent string       `json:"user_agent,omitempty"`
}

// IPHistory is stored as a JSONB column, bounded by the configured limit
// with the oldest entry evicted first.
type IPHistory []IPHistoryEntry

func (h IPHistory) Value() (driver.Value, error) {
	if h == nil {
		h = IPHistory{}
	}
	return json.Marshal(h)
}

func (h *IPHistory) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	case nil:
		*h = nil
		return nil
	default:
		return fmt.Errorf("scan ip history: unsupported type %T", src)
	}
}

// Append adds an entry, evicting from the front once limit is reached.
func (h IPHistory) Append(entry IPHistoryEntry, limit int) IPHistory {
	out := append(h, entry)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Metadata binds an access token to the client and network context it was
// issued to. One row per access token; mutated on every accepted IP change.
type Metadata struct {
	TokenID           string     `db:"token_id"`
	ClientFingerprint string     `db:"client_fingerprint"`
	SessionID         string     `db:"session_id"`
	IPAddress         string     `db:"ip_address"`
	IPHistory         IPHistory  `db:"ip_history"`
	IPChangeCount     int        `db:"ip_change_count"`
	CountryCode       *string    `db:"country_code"`
	City              *string    `db:"city"`
	LastGeoNotifiedAt *time.Time `db:"last_geo_notified_at"`
	UserAgent         string     `db:"user_agent"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}
