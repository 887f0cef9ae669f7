// internal/common/errors/handler.go
package errors

// Disposition tells a message transport what to do with a delivery that failed.
type Disposition int

const (
	// DispositionDrop acknowledges the delivery without redelivery.
	DispositionDrop Disposition = iota
	// DispositionRequeue asks the broker to redeliver.
	DispositionRequeue
)

func (d Disposition) String() string {
	if d == DispositionRequeue {
		return "requeue"
	}
	return "drop"
}

// ErrorHandler turns processing errors into transport decisions.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs the failure and decides whether the delivery should be retried.
// attempt is the number of times this delivery has already been tried.
func (h *ErrorHandler) Handle(messageID string, attempt int, err error) Disposition {
	stdErr := AsStandard(err)
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	disposition := DispositionDrop
	switch {
	case stdErr.Code == ErrCodeIntakeStopped && stdErr.Retryable:
		disposition = DispositionRequeue
	case attempt < retries:
		disposition = DispositionRequeue
	}

	h.logger.Error("Event processing failed", map[string]interface{}{
		"messageId":     messageID,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"attempt":       attempt,
		"retries":       retries,
		"errorCategory": GetErrorCategory(stdErr.Code),
		"disposition":   disposition.String(),
	})
	return disposition
}
