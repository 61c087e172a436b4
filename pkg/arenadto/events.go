package arenadto

type MoveEvent struct {
	Type string   `json:"type"`
	Move MoveView `json:"move"`
}

type GameOverEvent struct {
	Type           string `json:"type"`
	WinnerUsername string `json:"winnerUsername"`
	Reason         string `json:"reason,omitempty"`
}

// InvitationEvent covers INVITATION, ACCEPTED, DECLINED and EXPIRED.
// Only the fields relevant to Type are populated.
type InvitationEvent struct {
	Type          string `json:"type"`
	FromUsername  string `json:"fromUsername,omitempty"`
	ToUsername    string `json:"toUsername,omitempty"`
	GameID        string `json:"gameId,omitempty"`
	WhiteUsername string `json:"whiteUsername,omitempty"`
	BlackUsername string `json:"blackUsername,omitempty"`
}

type LobbyUsers struct {
	Usernames []string `json:"usernames"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	GameID  string `json:"gameId,omitempty"`
}
