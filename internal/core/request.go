// AngelaMos | 2026
// request.go

package core

import (
	"net"
	"net/http"
	"strings"
)

// HeaderSessionID carries the client session id bound to a token set.
const HeaderSessionID = "X-Session-ID"

// RequestContext is the binding-relevant view of an inbound request:
// everything the issuance and validation paths need without holding the
// *http.Request itself.
type RequestContext struct {
	IP          string
	UserAgent   string
	SessionID   string
	Fingerprint string
}

func RequestContextFromHTTP(r *http.Request) RequestContext {
	return RequestContext{
		IP:          ExtractIPAddress(r),
		UserAgent:   r.UserAgent(),
		SessionID:   r.Header.Get(HeaderSessionID),
		Fingerprint: ClientFingerprint(r),
	}
}

func ExtractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[len(ips)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
