package enums

// DLQStage records which side of the bus dead-lettered an event.
type DLQStage string

const (
	DLQStagePublish DLQStage = "publish"
	DLQStageConsume DLQStage = "consume"
)

// DLQReason classifies why an event reached the dead-letter store.
type DLQReason string

const (
	DLQReasonMaxAttempts       DLQReason = "max_attempts"
	DLQReasonNonRetryable      DLQReason = "non_retryable"
	DLQReasonMalformedEnvelope DLQReason = "malformed_envelope"
)

var validDLQReasons = []DLQReason{
	DLQReasonMaxAttempts,
	DLQReasonNonRetryable,
	DLQReasonMalformedEnvelope,
}

// IsValid reports whether the value is a known dead-letter reason.
func (r DLQReason) IsValid() bool {
	for _, candidate := range validDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
