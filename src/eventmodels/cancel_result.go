package eventmodels

// CancelDisposition distinguishes "broker asked and agreed" from "nothing
// left to cancel" and "no such order" so callers cannot mistake a not-yet
// submitted cancel for a confirmed one.
type CancelDisposition string

const (
	CancelAcknowledged    CancelDisposition = "acknowledged"
	CancelAlreadyTerminal CancelDisposition = "already_terminal"
	CancelNotFound        CancelDisposition = "not_found"
)

type CancelOrderResult struct {
	Disposition CancelDisposition `json:"disposition"`
	Message     string            `json:"message,omitempty"`
}

func (r CancelOrderResult) Success() bool {
	return r.Disposition == CancelAcknowledged
}
