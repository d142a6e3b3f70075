package validation

import (
	"fmt"
	"strings"

	"dialogd/pkg/models"
)

// Rules bound the accepted payload sizes; configurable at startup.
type Rules struct {
	MaxTextLen    int
	MaxCandidates int
	MaxIDLen      int
}

var rules = Rules{MaxTextLen: 65536, MaxCandidates: 16, MaxIDLen: 128}

func SetRules(r Rules) {
	if r.MaxTextLen > 0 {
		rules.MaxTextLen = r.MaxTextLen
	}
	if r.MaxCandidates > 0 {
		rules.MaxCandidates = r.MaxCandidates
	}
	if r.MaxIDLen > 0 {
		rules.MaxIDLen = r.MaxIDLen
	}
}

// ValidateUserID rejects ids that are empty, oversized or would collide
// with the store's key namespace separator.
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > rules.MaxIDLen {
		return fmt.Errorf("user id exceeds %d bytes", rules.MaxIDLen)
	}
	if strings.Contains(id, ":") {
		return fmt.Errorf("user id must not contain ':'")
	}
	return nil
}

// ValidateText bounds free-form message or prompt text.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	if len(text) > rules.MaxTextLen {
		return fmt.Errorf("text exceeds %d bytes", rules.MaxTextLen)
	}
	return nil
}

// ValidateMessage checks role and text of a message payload.
func ValidateMessage(m models.Message) error {
	switch m.Role {
	case models.RoleSystem, models.RoleUser, models.RoleBot:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	if err := ValidateText(m.Text); err != nil {
		return err
	}
	if len(m.Candidates) > rules.MaxCandidates {
		return fmt.Errorf("candidate count exceeds %d", rules.MaxCandidates)
	}
	return nil
}

// ValidateCandidateIDs checks a candidate id registration payload.
func ValidateCandidateIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("candidate ids are required")
	}
	if len(ids) > rules.MaxCandidates {
		return fmt.Errorf("candidate count exceeds %d", rules.MaxCandidates)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("candidate ids must be non-empty")
		}
		if len(id) > rules.MaxIDLen {
			return fmt.Errorf("candidate id exceeds %d bytes", rules.MaxIDLen)
		}
	}
	return nil
}
