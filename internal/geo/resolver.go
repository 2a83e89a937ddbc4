// AngelaMos | 2026
// resolver.go

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
)

// LocalCountryCode is the synthetic marker used for private and loopback
// addresses that never reach the external lookup.
const LocalCountryCode = "LOCAL"

type Location struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	IsPrivate   bool   `json:"is_private"`
}

func (l Location) Known() bool {
	return l.CountryCode != ""
}

type Resolver struct {
	lookup Lookup
	kv     core.KV
	cfg    config.GeoConfig
	logger *slog.Logger
}

func NewResolver(
	lookup Lookup,
	kv core.KV,
	cfg config.GeoConfig,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		lookup: lookup,
		kv:     kv,
		cfg:    cfg,
		logger: logger,
	}
}

// Resolve turns an IP into coarse location data. It never fails: lookup
// errors degrade to an unknown location because geo data only feeds
// advisory heuristics.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	if isPrivateAddress(ip) {
		return Location{
			Status:      "success",
			Country:     "Local Network",
			CountryCode: LocalCountryCode,
			IsPrivate:   true,
		}
	}

	cacheKey := "geo:ip:" + ip

	if cached, err := r.kv.Get(ctx, cacheKey); err == nil {
		var loc Location
		if jsonErr := json.Unmarshal(cached, &loc); jsonErr == nil {
			return loc
		}
	} else if !errors.Is(err, core.ErrKVMiss) {
		r.logger.Warn("geo cache read failed", "ip", ip, "error", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	loc, err := r.lookup.Lookup(lookupCtx, ip)
	if err != nil || loc.Status != "success" {
		r.logger.Warn("geo lookup failed, degrading to unknown",
			"ip", ip,
			"error", err,
		)
		return Location{Status: "fail"}
	}

	if encoded, jsonErr := json.Marshal(loc); jsonErr == nil {
		if putErr := r.kv.Put(ctx, cacheKey, encoded, r.cfg.CacheTTL); putErr != nil {
			r.logger.Warn("geo cache write failed", "ip", ip, "error", putErr)
		}
	}

	return loc
}

// HasCountryChanged reports a real country transition: both codes known,
// different, and neither the synthetic local marker.
func HasCountryChanged(oldCode, newCode string) bool {
	if oldCode == "" || newCode == "" {
		return false
	}
	if oldCode == LocalCountryCode || newCode == LocalCountryCode {
		return false
	}
	return oldCode != newCode
}

// isPrivateAddress treats unparseable input as private so garbage never
// reaches the external lookup.
func isPrivateAddress(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}

	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
