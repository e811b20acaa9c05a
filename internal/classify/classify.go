// Package classify decides whether an inbound mail is noise, a read receipt or a
// normal chat message. It looks only at headers and a content sample, never at
// the store.
package classify

import (
	"regexp"
	"strings"

	"github.com/vdavid/mailchat/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind is the classification outcome.
type Kind int

const (
	Normal Kind = iota
	Noise
	Receipt
)

func (k Kind) String() string {
	switch k {
	case Noise:
		return "noise"
	case Receipt:
		return "receipt"
	default:
		return "normal"
	}
}

// Envelope holds the headers the classifier looks at. From is the bare sender address.
type Envelope struct {
	From              string
	Subject           string
	ContentType       string
	ListID            string
	Precedence        string
	AutoSubmitted     string
	OriginalMessageID string
}

// Content is a sample of the mail body. Text must not have quoted replies stripped.
type Content struct {
	Text            string
	AttachmentNames []string
}

// Result explains a classification. ReceiptRefs lists candidate Message-IDs of
// the original message, header first, for Receipt results only.
type Result struct {
	Kind        Kind
	Reason      string
	ReceiptRefs []string
}

const originalMessageIDMarker = "original-message-id"

var (
	noReplyPattern   = regexp.MustCompile(`(?i)(^|[._-])(no[._-]?reply|noreply|do[._-]?not[._-]?reply|mailer-daemon|newsletter|marketing)([._-]|$)`)
	promoSubject     = regexp.MustCompile(`(?i)(newsletter|angebot|sale|rabatt|unsubscribe|werbung|promo)`)
	receiptPhrases   = foldAll("Empfangsbestätigung", "Lesebestätigung", "read receipt", "return receipt")
	bulkPrecedences  = map[string]bool{"bulk": true, "list": true, "junk": true}
	receiptMimeTypes = []string{"disposition-notification", "multipart/report"}
)

// Classify applies receipt detection first, then the noise filters enabled in settings.
func Classify(env Envelope, content Content, settings models.Settings) Result {
	if reason := receiptReason(env, content); reason != "" {
		return Result{Kind: Receipt, Reason: reason, ReceiptRefs: ReceiptReferences(env, content)}
	}
	if reason := noiseReason(env, settings); reason != "" {
		return Result{Kind: Noise, Reason: reason}
	}
	return Result{Kind: Normal}
}

// IsReceipt reports whether the mail is a read or delivery notification.
func IsReceipt(env Envelope, content Content) bool {
	return receiptReason(env, content) != ""
}

func receiptReason(env Envelope, content Content) string {
	ct := strings.ToLower(env.ContentType)
	for _, marker := range receiptMimeTypes {
		if strings.Contains(ct, marker) {
			return "content type " + marker
		}
	}

	subject := fold(env.Subject)
	for _, phrase := range receiptPhrases {
		if strings.Contains(subject, phrase) {
			return "receipt subject"
		}
	}

	if strings.Contains(strings.ToLower(content.Text), originalMessageIDMarker) {
		return "original message id in body"
	}

	for _, name := range content.AttachmentNames {
		if strings.Contains(strings.ToLower(name), "mdn") {
			return "mdn attachment"
		}
	}

	return ""
}

// ReceiptReferences lists the Message-IDs a receipt may refer to: the
// Original-Message-ID header, then every body line carrying the marker.
func ReceiptReferences(env Envelope, content Content) []string {
	var refs []string
	seen := map[string]bool{}
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	add(env.OriginalMessageID)
	for _, line := range strings.Split(content.Text, "\n") {
		if !strings.Contains(strings.ToLower(line), originalMessageIDMarker) {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			add(value)
		}
	}
	return refs
}

func noiseReason(env Envelope, settings models.Settings) string {
	sender := strings.ToLower(strings.TrimSpace(env.From))

	if settings.FilterNoReply && IsNoReplyAddress(sender) {
		return "no-reply sender"
	}
	if settings.FilterInfoAddresses && strings.HasPrefix(sender, "info@") {
		return "info address"
	}
	if settings.FilterPromotions {
		if promoSubject.MatchString(fold(env.Subject)) {
			return "promotional subject"
		}
		if IsBulk(env) {
			return "list or bulk mail"
		}
	}
	return ""
}

// IsNoReplyAddress matches the no-reply tokens against the local part and the
// domain separately, so both noreply@shop.com and hello@newsletter.shop.com match.
func IsNoReplyAddress(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	local, domain, found := strings.Cut(address, "@")
	if !found {
		return noReplyPattern.MatchString(address)
	}
	return noReplyPattern.MatchString(local) || noReplyPattern.MatchString(domain)
}

// IsBulk reports list or automated-mail signalling in the headers.
func IsBulk(env Envelope) bool {
	if strings.TrimSpace(env.ListID) != "" {
		return true
	}
	if bulkPrecedences[strings.ToLower(strings.TrimSpace(env.Precedence))] {
		return true
	}
	autoSubmitted := strings.ToLower(strings.TrimSpace(env.AutoSubmitted))
	return autoSubmitted != "" && autoSubmitted != "no"
}

// fold normalizes to NFC and case-folds so that "LESEBESTÄTIGUNG" and a
// decomposed "lesebestätigung" compare equal.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func foldAll(phrases ...string) []string {
	folded := make([]string, len(phrases))
	for i, p := range phrases {
		folded[i] = fold(p)
	}
	return folded
}
