package lobby

import (
	"errors"

	"github.com/park285/cheese-arena/internal/invite"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSelfInvite      = errors.New("cannot invite yourself")
	ErrTargetOffline   = errors.New("invitation target is not connected")
	ErrSenderOffline   = errors.New("inviter has not joined the lobby")
	ErrBadRequest      = errors.New("malformed request")
)

// Details feeds message templates.
type Details struct {
	GameID   string
	Target   string
	Expected int
}

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pvpchess.ErrNotFound):
		return arenadto.CodeNotFound
	case errors.Is(err, pvpchess.ErrInvalidSequence):
		return arenadto.CodeInvalidSequence
	case errors.Is(err, pvpchess.ErrIllegalMove):
		return arenadto.CodeIllegalMove
	case errors.Is(err, pvpchess.ErrTimeExpired):
		return arenadto.CodeTimeExpired
	case errors.Is(err, invite.ErrAlreadyPending):
		return arenadto.CodeAlreadyPending
	case errors.Is(err, ErrUnauthenticated):
		return arenadto.CodeUnauthenticated
	case errors.Is(err, pvpchess.ErrNotParticipant):
		return arenadto.CodeNotParticipant
	case errors.Is(err, ErrSelfInvite):
		return arenadto.CodeSelfInvite
	case errors.Is(err, ErrTargetOffline):
		return arenadto.CodeTargetOffline
	case errors.Is(err, ErrSenderOffline):
		return arenadto.CodeSenderOffline
	case errors.Is(err, pvpchess.ErrUnknownUser):
		return arenadto.CodeUnknownUser
	case errors.Is(err, ErrBadRequest), errors.Is(err, pvpchess.ErrInvalidArgs), errors.Is(err, invite.ErrInvalidArgs):
		return arenadto.CodeBadRequest
	}
	return arenadto.CodeInternal
}

// Classify converts err into a DomainError with catalog text.
func Classify(cat *msgcat.Catalog, err error, d Details) arenadto.DomainError {
	code := Code(err)
	de := arenadto.DomainError{
		Code:      code,
		Retryable: code == arenadto.CodeInternal || errors.Is(err, pvpchess.ErrConflict),
	}
	de.Message = cat.Text("errors."+code, d, code)
	return de
}
