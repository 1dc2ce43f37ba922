package printer

const (
	keyCaptureTitle      = "cli.capture.title"
	keyCaptureProperty   = "cli.capture.property"
	keyCaptureResource   = "cli.capture.resource"
	keyCaptureSize       = "cli.capture.size"
	keyCaptureSelected   = "cli.capture.selected"
	keyHeadersRedacted   = "cli.headers.redacted"
	keyPayloadEmpty      = "cli.payload.empty"
	keyPayloadTruncate   = "cli.payload.truncate_hint"
	keyJSONIndentSkipped = "cli.json.indent_skipped"
	keyResultOK          = "cli.result.ok"
	keyResultFailed      = "cli.result.failed"
	keyResultLink        = "cli.result.link"
	keyBatchStart        = "cli.batch.start"
	keyBatchComplete     = "cli.batch.complete"
	keyBatchCancelled    = "cli.batch.cancelled"
)
