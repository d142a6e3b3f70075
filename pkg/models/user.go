package models

// User holds the whole conversational state for one chat identity.
// Context is ordered by insertion (chronological) and never reordered;
// TruncationIndex hides the prefix of messages soft-deleted by a history
// clear without physically removing them.
type User struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	SystemPrompt    Message   `json:"system_prompt"`
	Context         []Message `json:"context,omitempty"`
	TruncationIndex int       `json:"truncation_index"`
}

// Append adds messages to the end of the context in order. It never
// touches TruncationIndex.
func (u *User) Append(msgs ...Message) {
	u.Context = append(u.Context, msgs...)
}

// VisibleWindow returns the last `limit` messages not hidden by the
// truncation pointer, in chronological order. With fewer visible messages
// than limit, all of them are returned; with none, an empty slice.
func (u *User) VisibleWindow(limit int) []Message {
	start := u.TruncationIndex
	if start > len(u.Context) {
		start = len(u.Context)
	}
	visible := u.Context[start:]
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]Message, len(visible))
	copy(out, visible)
	return out
}

// SoftDelete marks every existing message invisible to future windows.
// The length is captured at call time, so messages appended afterwards
// stay visible.
func (u *User) SoftDelete() {
	u.TruncationIndex = len(u.Context)
}

// FindMessage returns a pointer into Context for the message with the
// given id, or nil.
func (u *User) FindMessage(id string) *Message {
	for i := range u.Context {
		if u.Context[i].ID == id {
			return &u.Context[i]
		}
	}
	return nil
}
