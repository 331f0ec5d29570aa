package redisx

import "time"

const (
	// Per-buyer checkout lock: lock:checkout:{buyer_id} -> random token
	KeyCheckoutLock = "lock:checkout:%s"

	// Cached order view: order:{order_id} -> OrderView JSON
	KeyOrderView = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Low-stock products per seller: stock:low:{seller_id} -> set of product ids
	KeyLowStock = "stock:low:%s"
)

var (
	TTLOrderView = 5 * time.Minute
	TTLDedup     = 48 * time.Hour
	TTLLowStock  = 7 * 24 * time.Hour
)
