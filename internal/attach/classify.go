package attach

import "strings"

// Kind is the single classification every MIME-type decision in the
// client goes through. Rendering, preview resolution and the send-time
// allow-list all branch on Kind, never on raw MIME prefixes.
type Kind string

const (
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindAudio        Kind = "audio"
	KindPDF          Kind = "pdf"
	KindRichDocument Kind = "rich_document"
	KindPlainText    Kind = "plain_text"
	KindOther        Kind = "other"
)

// MIMEDocx is the XML-based word-processor format that gets converted to
// display markup for preview.
const MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const MIMEPDF = "application/pdf"

func Classify(mimeType string) Kind {
	switch {
	case mimeType == MIMEPDF:
		return KindPDF
	case mimeType == MIMEDocx:
		return KindRichDocument
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "text/"):
		return KindPlainText
	default:
		return KindOther
	}
}

// Sendable is the allow-list check applied before encoding: everything the
// client knows how to render may be sent, anything else (archives,
// executables, unknown binaries) is rejected up front.
func Sendable(mimeType string) bool {
	return Classify(mimeType) != KindOther
}
