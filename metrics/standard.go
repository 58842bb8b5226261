package metrics

// Pre-defined node metrics, registered in the default registry.
var (
	// BlocksApplied counts DA blocks fully applied by the runner.
	BlocksApplied = DefaultRegistry.Counter("runner/blocks/applied")

	// SoftConfirmationsApplied counts soft confirmations accepted.
	SoftConfirmationsApplied = DefaultRegistry.Counter("runner/softconf/applied")

	// SoftConfirmationsReverted counts reconciliation rollbacks.
	SoftConfirmationsReverted = DefaultRegistry.Counter("runner/softconf/reverted")

	// TxsSuccessful counts transactions that applied cleanly.
	TxsSuccessful = DefaultRegistry.Counter("stf/txs/successful")

	// TxsReverted counts transactions whose apply failed and was rolled
	// back.
	TxsReverted = DefaultRegistry.Counter("stf/txs/reverted")

	// BlobsDropped counts blobs discarded because the sender was not a
	// registered sequencer.
	BlobsDropped = DefaultRegistry.Counter("stf/blobs/dropped")

	// DaFetchRetries counts transient DA fetch failures that were
	// retried.
	DaFetchRetries = DefaultRegistry.Counter("runner/da/retries")

	// HeadHeight tracks the latest applied rollup height.
	HeadHeight = DefaultRegistry.Gauge("chain/head/height")
)
