// Package source implements the item-enumeration side of the pipeline:
// local email archive walk, on-device message-store SQLite walk, a
// filesystem watch, and the IMAP-backed source built on internal/imapsession
// and internal/imaporder. Each Source produces orchestrator.Item values
// whose Fetch closure retrieves the full raw payload lazily.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/chrispatten/haven-collector/internal/document"
)

// ParsedMessage is the normalized result of parsing one RFC822 message,
// before filtering or enrichment.
type ParsedMessage struct {
	Subject     string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	BodyText    string
	BodyHTML    string
	Images      []document.ImageAttachment
	Date        time.Time
	ListUnsub   string
}

// ParseRFC822 parses raw into a ParsedMessage, extracting plain text, HTML,
// and image attachments in a single walk.
func ParseRFC822(raw []byte) (*ParsedMessage, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		return &ParsedMessage{BodyText: string(raw)}, nil
	}

	pm := &ParsedMessage{
		Subject:   headerText(entity.Header, "Subject"),
		From:      entity.Header.Get("From"),
		ListUnsub: entity.Header.Get("List-Unsubscribe"),
	}
	pm.To = splitAddressList(entity.Header.Get("To"))
	pm.Cc = splitAddressList(entity.Header.Get("Cc"))
	pm.Bcc = splitAddressList(entity.Header.Get("Bcc"))
	if dateHdr := entity.Header.Get("Date"); dateHdr != "" {
		if t, err := mail822Date(dateHdr); err == nil {
			pm.Date = t
		}
	}

	walkParts(entity, pm)
	return pm, nil
}

func walkParts(entity *gomessage.Entity, pm *ParsedMessage) {
	mr := entity.MultipartReader()
	if mr == nil {
		consumePart(entity, pm)
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		if part.MultipartReader() != nil {
			walkParts(part, pm)
			continue
		}
		consumePart(part, pm)
	}
}

func consumePart(part *gomessage.Entity, pm *ParsedMessage) {
	ct := part.Header.Get("Content-Type")
	mimeType, _, _ := mime.ParseMediaType(ct)
	body, err := io.ReadAll(part.Body)
	if err != nil {
		return
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		sum := sha256.Sum256(body)
		pm.Images = append(pm.Images, document.ImageAttachment{
			Hash:     hex.EncodeToString(sum[:]),
			MIME:     mimeType,
			Bytes:    body,
			Filename: partFilename(part),
		})
	case mimeType == "text/html":
		pm.BodyHTML = string(body)
	case mimeType == "" || strings.HasPrefix(mimeType, "text/plain"):
		if pm.BodyText == "" {
			pm.BodyText = string(body)
		}
	}
}

func partFilename(part *gomessage.Entity) string {
	if cd := part.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			return params["filename"]
		}
	}
	return ""
}

func headerText(h gomessage.Header, key string) string {
	v := h.Get(key)
	decoded, err := (&mime.WordDecoder{}).DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func splitAddressList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mail822Date(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, io.ErrUnexpectedEOF
}

// ContentHash computes the content_hash recorded in a CanonicalDocument's
// metadata, used by the Gateway Submission Client's idempotency key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ToCanonical builds a CanonicalDocument from a parsed message.
func ToCanonical(sourceType, externalID, folder string, pm *ParsedMessage) document.CanonicalDocument {
	content := pm.BodyText
	if content == "" {
		content = pm.BodyHTML
	}
	ts := pm.Date
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	participants := append(append([]string{}, pm.To...), pm.Cc...)
	participants = append(participants, pm.Bcc...)

	return document.CanonicalDocument{
		SourceType:           sourceType,
		ExternalID:           externalID,
		Title:                pm.Subject,
		Content:              content,
		ContentMIME:          "text/plain",
		ContentTimestamp:     ts,
		ContentTimestampType: document.TimestampReceived,
		Metadata: map[string]any{
			"content_hash":     ContentHash(content),
			"from":             pm.From,
			"to":               pm.To,
			"cc":               pm.Cc,
			"bcc":              pm.Bcc,
			"participants":     participants,
			"folder":           folder,
			"listUnsubscribe":  pm.ListUnsub,
			"bodyHtml":         pm.BodyHTML,
		},
		Images: pm.Images,
	}
}
