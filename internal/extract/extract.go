// Package extract turns a parsed mail into chat content: a plain-text body, an
// optional HTML body and an attachment manifest.
package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"
	"github.com/vdavid/mailchat/internal/models"
)

const (
	defaultAttachmentName = "attachment"
	defaultContentType    = "application/octet-stream"
)

// Result is the normalized content of one mail.
type Result struct {
	Text        string
	HTML        string
	Attachments []models.AttachmentMeta
}

// IsEmpty reports whether nothing chat-visible survived extraction.
func (r Result) IsEmpty() bool {
	return r.Text == "" && r.HTML == "" && len(r.Attachments) == 0
}

var textPolicy = newTextPolicy()

func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

var quoteIntroductions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^On .+wrote:$`),
	regexp.MustCompile(`(?i)^Am .+schrieb.+:$`),
	regexp.MustCompile(`(?i)^From:\s`),
	regexp.MustCompile(`(?i)^Von:\s`),
	regexp.MustCompile(`^>+`),
	regexp.MustCompile(`(?i)^-{2,}\s*Original Message\s*-{2,}`),
}

// Extract walks every part of the mail rooted at root. A nil root yields an empty Result.
func Extract(root *enmime.Part, stripReplies bool) Result {
	text, htmlBody := Bodies(root, stripReplies)
	return Result{
		Text:        text,
		HTML:        htmlBody,
		Attachments: Attachments(root),
	}
}

// Bodies returns the first text/plain part and the first HTML part, skipping
// attachments. When there is no plain part, the text is derived from the HTML.
func Bodies(root *enmime.Part, stripReplies bool) (text, htmlBody string) {
	var haveText, haveHTML bool
	for _, part := range allParts(root) {
		if isContainer(part) || isAttachmentDisposition(part) {
			continue
		}
		switch contentType(part) {
		case "text/plain":
			if !haveText {
				text = decodedText(part)
				haveText = text != ""
			}
		case "text/html", "application/xhtml+xml":
			if !haveHTML {
				htmlBody = decodedText(part)
				haveHTML = htmlBody != ""
			}
		}
	}

	if text == "" && htmlBody != "" {
		text = HTMLToText(htmlBody)
	}
	if stripReplies && text != "" {
		text = StripQuotedText(text)
	}
	return text, htmlBody
}

// Attachments lists parts that carry an attachment disposition or a file name.
// Parts with an empty payload are left out.
func Attachments(root *enmime.Part) []models.AttachmentMeta {
	attachments := []models.AttachmentMeta{}
	for _, part := range allParts(root) {
		if isContainer(part) {
			continue
		}
		if part.FileName == "" && !isAttachmentDisposition(part) {
			continue
		}
		if len(part.Content) == 0 {
			continue
		}

		name := part.FileName
		if name == "" {
			name = defaultAttachmentName
		}
		ct := part.ContentType
		if ct == "" {
			ct = defaultContentType
		}
		attachments = append(attachments, models.AttachmentMeta{
			Name:        name,
			ContentType: ct,
			Size:        int64(len(part.Content)),
		})
	}
	return attachments
}

// FileNames returns the declared file name of every part, including empty payloads.
func FileNames(root *enmime.Part) []string {
	var names []string
	for _, part := range allParts(root) {
		if part.FileName != "" {
			names = append(names, part.FileName)
		}
	}
	return names
}

// NotificationText concatenates the machine-readable parts of a disposition
// notification (message/disposition-notification), where Original-Message-ID lives.
func NotificationText(root *enmime.Part) string {
	var b strings.Builder
	for _, part := range allParts(root) {
		if contentType(part) != "message/disposition-notification" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.Write(part.Content)
	}
	return b.String()
}

// HTMLToText strips tags and collapses whitespace.
func HTMLToText(htmlBody string) string {
	stripped := html.UnescapeString(textPolicy.Sanitize(htmlBody))
	return strings.Join(strings.Fields(stripped), " ")
}

// StripQuotedText cuts text at the first line that introduces a quoted reply.
// Text without such a line comes back trimmed but otherwise unchanged.
func StripQuotedText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if isQuoteIntroduction(strings.TrimSpace(line)) {
			lines = lines[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isQuoteIntroduction(line string) bool {
	for _, re := range quoteIntroductions {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func allParts(root *enmime.Part) []*enmime.Part {
	if root == nil {
		return nil
	}
	return root.DepthMatchAll(func(*enmime.Part) bool { return true })
}

func isContainer(part *enmime.Part) bool {
	return part.FirstChild != nil || strings.HasPrefix(contentType(part), "multipart/")
}

func isAttachmentDisposition(part *enmime.Part) bool {
	return strings.EqualFold(part.Disposition, "attachment")
}

// contentType treats a leaf without a declared type as text/plain.
func contentType(part *enmime.Part) string {
	ct := strings.ToLower(strings.TrimSpace(part.ContentType))
	if ct == "" {
		return "text/plain"
	}
	return ct
}

// decodedText trims the payload and normalizes CRLF line endings.
func decodedText(part *enmime.Part) string {
	return strings.TrimSpace(strings.ReplaceAll(string(part.Content), "\r\n", "\n"))
}
