// Package netsync replicates settled trades across servers over a
// pub/sub backend so every instance prices against the shared market.
package netsync

// TradePacket is the cross-server wire record for one settled trade.
// Amount is the signed effective volume: sells positive, buys negative.
type TradePacket struct {
	ServerID  string  `json:"source_server"`
	ProductID string  `json:"product_id"`
	Amount    float64 `json:"amount"`
	Timestamp int64   `json:"timestamp"` // unix ms
}
