// Package message holds the wire form of chat lines.
//
// Every line travelling between server and clients is newline-terminated UTF-8 text.
// Relayed lines have the form "[sender]: text".
package message

import (
	"strings"
	"time"
)

// SystemSender - author name of notices generated by the server itself.
const SystemSender = "**SERVER**"

// Message - single chat message, is not persisted, only its Line form is relayed.
type Message struct {
	Sender string
	Text   string
	At     time.Time
}

// New - builds message stamped with current UTC time.
func New(sender, text string) Message {
	return Message{Sender: sender, Text: text, At: time.Now().UTC()}
}

// Line - returns wire form of the message.
func (m Message) Line() string {
	return Format(m.Sender, m.Text)
}

// Format - formats newline-terminated relay line.
func Format(sender, text string) string {
	b := strings.Builder{}
	b.Grow(len(sender) + len(text) + 5)
	b.WriteByte('[')
	b.WriteString(sender)
	b.WriteString("]: ")
	b.WriteString(text)
	b.WriteByte('\n')
	return b.String()
}

// Notice - formats server notice line.
func Notice(text string) string {
	return Format(SystemSender, text)
}

// Clean - strips line terminator ("\n" or "\r\n") and drops invalid UTF-8 sequences.
// Valid text is kept as is.
func Clean(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return strings.ToValidUTF8(line, "")
}

// Name - extracts display name from join line, empty result means the name is invalid.
func Name(line string) string {
	return strings.TrimSpace(Clean(line))
}
