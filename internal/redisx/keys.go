package redisx

import "time"

const (
	// Dedup of event processing: dedup:{consumer}:{event_id}, written only
	// after the handler applied the event.
	KeyDedup = "dedup:%s:%s"

	// Read cache of an order snapshot: order:{order_id} -> JSON.
	KeyOrderCache = "order:%s"
)

var (
	TTLDedup      = 48 * time.Hour
	TTLOrderCache = 5 * time.Minute
)
