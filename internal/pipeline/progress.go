package pipeline

// Progress step names.
const (
	StepRunStarted     = "run_started"
	StepModal          = "modal"
	StepOrderStarted   = "order_started"
	StepReceiptSaved   = "receipt_saved"
	StepReceiptTimeout = "receipt_timeout"
	StepArchive        = "archive"
	StepRunCompleted   = "run_completed"
	StepRunFailed      = "run_failed"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Row     int    `json:"row,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when run progress occurs
type ProgressCallback func(event ProgressEvent)

func (p *Pipeline) emit(event ProgressEvent) {
	if p.opts.OnProgress == nil {
		return
	}
	event.RunID = p.opts.RunID.String()
	p.opts.OnProgress(event)
}
