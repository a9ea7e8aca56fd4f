package types

// Receipt describes a committed transaction and the events it produced, in
// emission order.
type Receipt struct {
	TxHash     [32]byte `json:"-"`
	ExecutedAt int64    `json:"executedAt"`
	Events     []*Event `json:"events"`
}
