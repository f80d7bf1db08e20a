package realtime

import "time"

// Security/performance limits for the websocket surface.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Heartbeat defaults (can be overridden by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (commands per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

// Presence policy.
const (
	// presenceTTL bounds how long a stored presence record stays live
	// without a refresh. Expiry is lazy, checked on read.
	presenceTTL = 5 * time.Minute

	// Fallback classification thresholds applied to a last-seen timestamp
	// when no live presence record exists.
	presenceOnlineWithin = 5 * time.Minute
	presenceAwayWithin   = 30 * time.Minute

	// presenceBulkMax caps a single bulk presence query.
	presenceBulkMax = 50
)

// Redelivery policy. The window and cap are product decisions, not
// correctness requirements, so the gateway lets env override them.
const (
	redeliveryWindow   = 7 * 24 * time.Hour
	redeliveryBatchMax = 50
)
