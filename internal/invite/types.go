package invite

import "time"

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusClaimed  Status = "CLAIMED"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
)

// Invitation is a snapshot; mutating it does not affect the registry.
type Invitation struct {
	FromUsername string
	ToUsername   string
	CreatedAt    time.Time
	Status       Status
	GameID       string
}

func (i Invitation) Accepted() bool { return i.Status == StatusAccepted }
func (i Invitation) Declined() bool { return i.Status == StatusDeclined }
