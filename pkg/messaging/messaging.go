package messaging

import "context"

// MessageSender defines an interface for publishing book updates.
// It keeps the core package free of any particular transport.
type MessageSender interface {
	SendBookUpdate(ctx context.Context, update *BookUpdate) error
	Close() error
}

// BookUpdate is the market-data message published after every applied
// event. Empty price strings mean the side is empty.
type BookUpdate struct {
	Book        string `json:"book"`
	Seq         uint64 `json:"seq"`
	Kind        string `json:"kind"`
	Side        string `json:"side"`
	OrderID     string `json:"orderId"`
	Timestamp   int64  `json:"timestamp"`
	BestBid     string `json:"bestBid,omitempty"`
	BestBidQty  string `json:"bestBidQty,omitempty"`
	BestAsk     string `json:"bestAsk,omitempty"`
	BestAskQty  string `json:"bestAskQty,omitempty"`
	Spread      string `json:"spread,omitempty"`
	LevelChange string `json:"levelChange,omitempty"`
}
