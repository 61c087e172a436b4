package arenadto

// Error codes carried by DomainError and ERROR frames.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidSequence = "INVALID_SEQUENCE"
	CodeIllegalMove     = "ILLEGAL_MOVE"
	CodeTimeExpired     = "TIME_EXPIRED"
	CodeAlreadyPending  = "ALREADY_PENDING"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotParticipant  = "NOT_PARTICIPANT"
	CodeSelfInvite      = "SELF_INVITE"
	CodeTargetOffline   = "TARGET_OFFLINE"
	CodeSenderOffline   = "SENDER_OFFLINE"
	CodeUnknownUser     = "UNKNOWN_USER"
	CodeBadRequest      = "BAD_REQUEST"
	CodeInternal        = "INTERNAL"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}
