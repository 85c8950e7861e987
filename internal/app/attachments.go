package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"medportal/internal/util"
	"medportal/pkg/domain"
)

const (
	pdfPreviewLimit = 2000
	presignExpiry   = 15 * time.Minute
)

// UploadAttachment stores an uploaded file and returns its attachment record.
// PDF uploads get a text preview extracted so transcripts stay searchable.
func (a *App) UploadAttachment(ctx context.Context, name, contentType string, size int64, r io.Reader) (domain.FileAttachment, error) {
	if r == nil || strings.TrimSpace(name) == "" {
		return domain.FileAttachment{}, ErrAttachmentRequired
	}
	if size > a.maxBytes {
		return domain.FileAttachment{}, ErrAttachmentTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxBytes+1))
	if err != nil {
		return domain.FileAttachment{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxBytes {
		return domain.FileAttachment{}, ErrAttachmentTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := "att_" + util.NewID()
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.FileAttachment{}, fmt.Errorf("store attachment: %w", err)
	}
	att := domain.FileAttachment{
		ID:         key,
		Name:       name,
		Type:       contentType,
		Size:       int64(len(data)),
		StorageKey: key,
		UploadedAt: time.Now().UTC(),
	}
	if contentType == "application/pdf" {
		att.TextPreview = pdfPreview(data)
	}
	if url, err := a.objects.PresignGet(ctx, key, presignExpiry); err == nil {
		att.URL = url
	}
	return att, nil
}

// Attachment resolves an attachment record by storage key, inlining the
// stored bytes as a data URL ready for the message formatter.
func (a *App) Attachment(ctx context.Context, key string, meta domain.FileAttachment) (domain.FileAttachment, error) {
	data, err := a.objects.Get(ctx, key)
	if err != nil {
		return domain.FileAttachment{}, fmt.Errorf("load attachment: %w", err)
	}
	meta.StorageKey = key
	meta.URL = dataURL(meta.Type, data)
	return meta, nil
}

// resolveAttachments inlines stored bytes for each attachment concurrently.
// Attachments that cannot be read are dropped, mirroring how an unreadable
// selected file is skipped rather than failing the whole send.
func (a *App) resolveAttachments(ctx context.Context, attachments []domain.FileAttachment) []domain.FileAttachment {
	if len(attachments) == 0 {
		return nil
	}
	resolved := make([]domain.FileAttachment, len(attachments))
	g, ctx := errgroup.WithContext(ctx)
	for i, att := range attachments {
		g.Go(func() error {
			if strings.HasPrefix(att.URL, "data:") {
				resolved[i] = att
				return nil
			}
			// uploads use the storage key as the attachment id, so clients
			// may reference stored files by id alone
			key := att.StorageKey
			if key == "" {
				key = att.ID
			}
			if key == "" {
				slog.Warn("attachment has no stored content, dropping", "attachment", att.Name)
				return nil
			}
			data, err := a.objects.Get(ctx, key)
			if err != nil {
				slog.Warn("attachment unreadable, dropping", "attachment", att.Name, "error", err)
				return nil
			}
			att.URL = dataURL(att.Type, data)
			resolved[i] = att
			return nil
		})
	}
	_ = g.Wait()
	out := make([]domain.FileAttachment, 0, len(resolved))
	for _, att := range resolved {
		if att.URL != "" {
			out = append(out, att)
		}
	}
	return out
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// pdfPreview extracts up to pdfPreviewLimit runes of plain text.
// Problematic pages are skipped instead of failing the upload.
func pdfPreview(data []byte) string {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		if sb.Len() >= pdfPreviewLimit {
			break
		}
	}
	preview := strings.TrimSpace(sb.String())
	runes := []rune(preview)
	if len(runes) > pdfPreviewLimit {
		preview = string(runes[:pdfPreviewLimit])
	}
	return preview
}
