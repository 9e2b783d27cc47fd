package orchestrator

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// renderMessage turns an agent message into the text buffered for the
// consumer, suffixed with the time it was received.
func renderMessage(ev MessageEvent, now time.Time) string {
	var text string
	if ev.Type == EventRichContent {
		text = renderRich(ev.Content)
	} else {
		text = toPlain(ev.Message)
	}
	return text + " [" + now.UTC().Format(time.RFC3339) + "]"
}

// renderRich labels structured content as a compact JSON block.
func renderRich(content json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, content); err != nil {
		return "[Rich content] " + string(content)
	}
	return "[Rich content] " + buf.String()
}

// blockTags end a line when converting markup to plain text.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
}

// toPlain strips markup from agent text, keeping line breaks and decoding
// entities. Text without tags passes through with only entity decoding.
func toPlain(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return strings.TrimSpace(html.UnescapeString(s))
			}
			return collapseLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
