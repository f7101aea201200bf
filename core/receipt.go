package core

// Receipt records the outcome of one transaction. Failed transactions are
// not included in the block but still get a receipt so clients can see why.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        TxType `json:"type"`
	From        string `json:"from"`
	BlockHeight int64  `json:"block_height"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	// Code is the lottery error code (for example "ALREADY_CLAIMED") when the
	// failure came from the lottery engine.
	Code   string `json:"code,omitempty"`
	Result any    `json:"result,omitempty"`
}
