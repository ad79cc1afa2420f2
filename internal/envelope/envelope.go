// Package envelope implements the payload conventions smuggled inside plain
// message text: reply threading and file-attachment descriptions. The encoded
// forms are wire-compatible with what the ledger already persists, so nothing
// here changes the stored message schema.
package envelope

import (
	"encoding/json"
	"strings"
)

const (
	replyMarker = "REPLY:"
	fileMarker  = "file"

	previewLimit = 30
)

// Kind discriminates the decoded body union.
type Kind int

const (
	KindPlain Kind = iota
	KindReply
	KindFile
)

// Reply quotes an earlier message alongside the new text.
type Reply struct {
	OriginalSender    string
	OriginalMessageID string
	OriginalPreview   string
	Text              string
}

// File describes an uploaded attachment pinned on the content gateway.
type File struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	FileType string `json:"fileType,omitempty"`
	IPFSHash string `json:"ipfsHash"`
	URL      string `json:"url,omitempty"`
}

// Body is the decoded tagged union: exactly one of Reply/File is set for the
// non-plain kinds. Text always carries the renderable message text.
type Body struct {
	Kind  Kind
	Text  string
	Reply *Reply
	File  *File
}

// Decode classifies a raw message body. File detection runs first: a reply
// prefix never wraps a file envelope, but an actual text starting with a file
// discriminator must not shadow reply decoding. Classification failures fall
// through to plain text, never an error.
func Decode(raw string) Body {
	if f, ok := DecodeFile(raw); ok {
		return Body{Kind: KindFile, Text: f.Name, File: &f}
	}
	if r, ok := DecodeReply(raw); ok {
		return Body{Kind: KindReply, Text: r.Text, Reply: &r}
	}
	return Body{Kind: KindPlain, Text: raw}
}

// EncodeReply produces the colon-delimited reply form quoting the original
// message. The preview is truncated to 30 runes and scrubbed of the delimiter
// so the fixed-position fields stay parseable; the new text is appended as-is
// and may contain colons freely.
func EncodeReply(originalSender, originalMessageID, originalText, newText string) string {
	return replyMarker + originalSender + ":" + originalMessageID + ":" + preview(originalText) + ":" + newText
}

// DecodeReply parses a reply-marked body. The first three colon-delimited
// fields after the marker are sender, message id and preview; everything that
// remains, colons included, is the actual text.
func DecodeReply(text string) (Reply, bool) {
	if !strings.HasPrefix(text, replyMarker) {
		return Reply{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(text, replyMarker), ":", 4)
	if len(parts) < 4 {
		return Reply{}, false
	}
	return Reply{
		OriginalSender:    parts[0],
		OriginalMessageID: parts[1],
		OriginalPreview:   parts[2],
		Text:              parts[3],
	}, true
}

// EncodeFile serializes a file description for the ledger's text field.
func EncodeFile(f File) (string, error) {
	f.Type = fileMarker
	out, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeFile attempts a structured parse of the body. It reports a file only
// when the JSON parses, the discriminator equals the file marker and a content
// hash is present; plain text that merely looks structured stays plain.
func DecodeFile(text string) (File, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return File{}, false
	}
	var f File
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return File{}, false
	}
	if f.Type != fileMarker || f.IPFSHash == "" {
		return File{}, false
	}
	return f, true
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewLimit {
		runes = runes[:previewLimit]
	}
	return strings.ReplaceAll(string(runes), ":", " ")
}
