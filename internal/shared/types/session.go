package types

// Status represents session lifecycle states
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// State is a key/value state map owned by a session or card
type State = map[string]interface{}

// SessionMeta is what a loaded bundle declared about itself
type SessionMeta struct {
	SessionID           string           `json:"sessionId"`
	StackID             string           `json:"stackId"`
	DeclaredID          string           `json:"declaredId,omitempty"`
	Title               string           `json:"title"`
	Description         string           `json:"description,omitempty"`
	InitialSessionState State            `json:"initialSessionState,omitempty"`
	InitialCardState    map[string]State `json:"initialCardState,omitempty"`
	Cards               []string         `json:"cards"`
}

// HasCard reports whether the bundle declares cardID
func (m *SessionMeta) HasCard(cardID string) bool {
	for _, id := range m.Cards {
		if id == cardID {
			return true
		}
	}
	return false
}

// StateSnapshot is the state handed to a render or event invocation
type StateSnapshot struct {
	CardState    State `json:"cardState"`
	SessionState State `json:"sessionState"`
	GlobalState  State `json:"globalState"`
}

// Health reports runtime readiness and live sessions
type Health struct {
	Ready    bool     `json:"ready"`
	Sessions []string `json:"sessions"`
}
