package ai

import (
	"strings"

	"medportal/pkg/domain"
)

// Message is one role/content pair of a completion request. Content is either
// a plain string or a []ContentPart when the turn carries attachments.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
	File     *FileRef  `json:"file,omitempty"`
}

// ImageRef points at inline image data (a data URL).
type ImageRef struct {
	URL string `json:"url"`
}

// FileRef carries a non-image attachment by name plus inline data.
type FileRef struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// BuildMessages shapes a consultation transcript into the wire format the
// completion endpoint expects. The specialty's system prompt always comes
// first and is never part of the stored transcript. Prior turns pass through
// as plain text; attachments on past messages are display-only and are not
// replayed. When the current (last) turn carries attachments, its content is
// rewritten into a multimodal part array: the typed text first, then one part
// per attachment. Attachments without resolvable data are dropped silently.
func BuildMessages(transcript []domain.ChatMessage, sp domain.MedicalSpecialty, attachments []domain.FileAttachment) []Message {
	out := make([]Message, 0, len(transcript)+1)
	out = append(out, Message{Role: string(domain.RoleSystem), Content: sp.SystemPrompt})

	if len(transcript) == 0 {
		return out
	}

	for _, msg := range transcript[:len(transcript)-1] {
		out = append(out, Message{Role: string(msg.Role), Content: msg.Content})
	}

	last := transcript[len(transcript)-1]
	parts := attachmentParts(last.Content, attachments)
	if parts == nil {
		out = append(out, Message{Role: string(last.Role), Content: last.Content})
		return out
	}
	out = append(out, Message{Role: string(last.Role), Content: parts})
	return out
}

func attachmentParts(text string, attachments []domain.FileAttachment) []ContentPart {
	if len(attachments) == 0 {
		return nil
	}
	parts := make([]ContentPart, 0, len(attachments)+1)
	parts = append(parts, ContentPart{Type: "text", Text: text})
	for _, att := range attachments {
		if att.URL == "" {
			continue
		}
		if strings.HasPrefix(att.Type, "image/") {
			parts = append(parts, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageRef{URL: att.URL},
			})
			continue
		}
		parts = append(parts, ContentPart{
			Type: "file",
			File: &FileRef{Filename: att.Name, FileData: att.URL},
		})
	}
	return parts
}
