package models

import "errors"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
)

// Resolution tracks the candidate-answer state machine. Both resolved
// states are terminal; a resolved answer never transitions again.
type Resolution string

const (
	Unresolved       Resolution = ""
	ResolvedByChoice Resolution = "by_choice"
	ResolvedByCustom Resolution = "by_custom"
)

var (
	// ErrInvalidChoice is returned when a resolution references a
	// candidate id that was never registered on the answer.
	ErrInvalidChoice = errors.New("chosen id is not among the registered candidate ids")
	// ErrAlreadyResolved is returned when a terminal answer is resolved
	// again; the original resolution is preserved.
	ErrAlreadyResolved = errors.New("answer already resolved")
	// ErrNotCandidate is returned when a candidate operation addresses a
	// message that carries no candidate set.
	ErrNotCandidate = errors.New("message is not a candidate answer")
)

// Message is a single entry in a user's context. Bot messages produced by
// the generator additionally carry the candidate fields; they stay nil for
// system and user messages (tagged variant, no subtype).
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Candidates holds the generator's proposed alternatives, fixed at
	// creation. CandidateIDs correlates each position with an external id
	// and is set once by a separate call before resolution.
	Candidates   []string   `json:"candidates,omitempty"`
	CandidateIDs []string   `json:"candidate_ids,omitempty"`
	Resolution   Resolution `json:"resolution,omitempty"`
}

// NewUserMessage returns a plain user-authored message.
func NewUserMessage(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Text: text}
}

// NewCandidateAnswer returns an unresolved bot answer holding every
// candidate text. Text defaults to the first candidate so the log stays
// readable before resolution.
func NewCandidateAnswer(id string, candidates []string) Message {
	m := Message{ID: id, Role: RoleBot, Candidates: append([]string(nil), candidates...)}
	if len(m.Candidates) > 0 {
		m.Text = m.Candidates[0]
	}
	return m
}

// IsCandidateAnswer reports whether the message carries a candidate set.
func (m *Message) IsCandidateAnswer() bool {
	return m.Role == RoleBot && len(m.Candidates) > 0
}

// SetCandidateIDs attaches the external candidate ids. Re-registering ids
// while the answer is still unresolved is accepted so callers can retry;
// after resolution the answer is immutable.
func (m *Message) SetCandidateIDs(ids []string) error {
	if !m.IsCandidateAnswer() {
		return ErrNotCandidate
	}
	if m.Resolution != Unresolved {
		return ErrAlreadyResolved
	}
	m.CandidateIDs = append([]string(nil), ids...)
	return nil
}

// ResolveByChoice canonicalizes the answer to the candidate correlated
// with chosenID and returns the final text. The candidate set itself is
// never mutated, only Text and Resolution change.
func (m *Message) ResolveByChoice(chosenID string) (string, error) {
	if !m.IsCandidateAnswer() {
		return "", ErrNotCandidate
	}
	if m.Resolution != Unresolved {
		return "", ErrAlreadyResolved
	}
	for i, id := range m.CandidateIDs {
		if id == chosenID && i < len(m.Candidates) {
			m.Text = m.Candidates[i]
			m.Resolution = ResolvedByChoice
			return m.Text, nil
		}
	}
	return "", ErrInvalidChoice
}

// ResolveByCustom canonicalizes the answer to caller-supplied text that
// may diverge from every machine candidate.
func (m *Message) ResolveByCustom(text string) error {
	if !m.IsCandidateAnswer() {
		return ErrNotCandidate
	}
	if m.Resolution != Unresolved {
		return ErrAlreadyResolved
	}
	m.Text = text
	m.Resolution = ResolvedByCustom
	return nil
}

// HasCandidateID reports whether the given external id was registered on
// this answer. Used for marker-based addressing of custom resolutions.
func (m *Message) HasCandidateID(id string) bool {
	for _, c := range m.CandidateIDs {
		if c == id {
			return true
		}
	}
	return false
}
