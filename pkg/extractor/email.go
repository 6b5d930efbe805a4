package extractor

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"docuquery/pkg/domain"
)

var headerLineRe = regexp.MustCompile(`(?mi)^(From|To|Cc|Subject|Date):\s*(.+)$`)

// replyMarkerRe cuts quoted history so only the reply-visible body
// survives.
var replyMarkerRe = regexp.MustCompile(`(?mi)^(On .+ wrote:|-{2,}\s*Original Message\s*-{2,}|From:\s.+)$`)

// extractEmail parses an .eml message into a single page of headers
// plus the reply-visible body. Messages net/mail cannot parse fall
// back to regex header scraping over the raw bytes.
func (d *Dispatcher) extractEmail(data []byte, filename string) *domain.Document {
	headers, body, err := parseEmail(data)
	if err != nil {
		headers, body = scrapeEmail(data)
	}
	if headers == "" && strings.TrimSpace(body) == "" {
		return fallbackDocument(domain.TypeEmail, fmt.Errorf("%w: no readable content", domain.ErrExtractionFailed))
	}

	page := strings.TrimSpace(headers + "\n\n" + visibleBody(body))
	return &domain.Document{
		TotalPages: 1,
		PageTexts:  []string{page},
		FullText:   page,
		Extraction: domain.ExtractionInfo{
			Library: "net/mail",
			Method:  "email",
		},
	}
}

func parseEmail(data []byte) (headers, body string, err error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var hb strings.Builder
	for _, key := range []string{"From", "To", "Cc", "Subject", "Date"} {
		if v := msg.Header.Get(key); v != "" {
			fmt.Fprintf(&hb, "%s: %s\n", key, v)
		}
	}

	body = readEmailBody(msg)
	return strings.TrimSpace(hb.String()), body, nil
}

// readEmailBody walks multipart messages for the first text/plain
// part, decoding quoted-printable where declared.
func readEmailBody(msg *mail.Message) string {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if partType == "" || partType == "text/plain" {
				return decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))
			}
		}
		return ""
	}
	return decodeTransfer(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
}

func decodeTransfer(r io.Reader, encoding string) string {
	if strings.EqualFold(strings.TrimSpace(encoding), "quoted-printable") {
		r = quotedprintable.NewReader(r)
	}
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<20))
	return string(raw)
}

// scrapeEmail is the regex fallback for malformed messages.
func scrapeEmail(data []byte) (headers, body string) {
	text := string(data)

	var hb strings.Builder
	for _, m := range headerLineRe.FindAllStringSubmatch(text, -1) {
		fmt.Fprintf(&hb, "%s: %s\n", m[1], strings.TrimSpace(m[2]))
	}

	// Body is everything past the first blank line.
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		body = text[idx+2:]
	} else if idx := strings.Index(text, "\r\n\r\n"); idx >= 0 {
		body = text[idx+4:]
	}
	return strings.TrimSpace(hb.String()), body
}

// visibleBody drops quoted reply history and signature blocks.
func visibleBody(body string) string {
	if loc := replyMarkerRe.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	if idx := strings.Index(body, "\n-- \n"); idx >= 0 {
		body = body[:idx]
	}

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
