package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"medportal/pkg/domain"
	"medportal/pkg/specialty"
)

type exportMessage struct {
	Role      domain.MessageRole `json:"role"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
}

type exportDocument struct {
	Specialty string          `json:"specialty"`
	Timestamp time.Time       `json:"timestamp"`
	Doctor    string          `json:"doctor"`
	Messages  []exportMessage `json:"messages"`
}

// ExportConsultation renders a consultation transcript as a downloadable JSON
// document and returns it with its attachment filename.
func (a *App) ExportConsultation(id string) ([]byte, string, error) {
	c, msgs, err := a.Consultation(id)
	if err != nil {
		return nil, "", err
	}
	sp, ok := specialty.ByID(c.SpecialtyID)
	if !ok {
		return nil, "", ErrUnknownSpecialty
	}
	doctor := ""
	if user, found, err := a.store.GetUserByID(c.UserID); err == nil && found {
		doctor = user.Name
	}
	doc := exportDocument{
		Specialty: sp.Name,
		Timestamp: time.Now().UTC(),
		Doctor:    doctor,
		Messages:  make([]exportMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		doc.Messages = append(doc.Messages, exportMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal transcript: %w", err)
	}
	filename := fmt.Sprintf("consultation-%s-%s.json",
		strings.ToLower(sp.Name), doc.Timestamp.Format("2006-01-02"))
	return data, filename, nil
}
