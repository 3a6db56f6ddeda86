// ABOUTME: Renders modmail cards as Matrix message content
// ABOUTME: Markdown body for plain clients, goldmark HTML for rich ones, @room for staff pings

package matrix

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-modmail/internal/modmail"
)

const cardTimeFormat = "2006-01-02 15:04:05 MST"

var (
	markdownOnce     sync.Once
	markdownRenderer goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		// Raw HTML in the source is escaped, so user text cannot inject markup.
		markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
	})
	return markdownRenderer
}

// renderMessage converts msg into m.room.message content. Cards and staff
// pings are m.text so clients notify; bare text is an m.notice.
func renderMessage(msg modmail.Message) *event.MessageEventContent {
	body := cardMarkdown(msg)

	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
	if msg.IsCard() || msg.MentionStaff {
		content.MsgType = event.MsgText
	}
	if msg.MentionStaff {
		content.Body = "@room " + body
		content.Mentions = &event.Mentions{Room: true}
	} else {
		content.Mentions = &event.Mentions{}
	}

	if msg.IsCard() || msg.MentionStaff {
		content.Format = event.FormatHTML
		content.FormattedBody = cardHTML(msg)
	}
	return content
}

// cardMarkdown is the plain-text fallback of a card.
func cardMarkdown(msg modmail.Message) string {
	var parts []string
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	if msg.Author != nil && msg.Author.Name != "" {
		parts = append(parts, "**"+msg.Author.Name+"**")
	}
	if msg.Title != "" {
		parts = append(parts, "**"+msg.Title+"**")
	}
	if msg.Description != "" {
		parts = append(parts, msg.Description)
	}
	if len(msg.Fields) > 0 {
		parts = append(parts, strings.Join(lo.Map(msg.Fields, func(f modmail.Field, _ int) string {
			return fmt.Sprintf("**%s:** %s", f.Name, f.Value)
		}), "\n"))
	}
	if footer := footerLine(msg); footer != "" {
		parts = append(parts, "_"+footer+"_")
	}
	return strings.Join(parts, "\n\n")
}

func footerLine(msg modmail.Message) string {
	var bits []string
	if msg.Footer != "" {
		bits = append(bits, msg.Footer)
	}
	if !msg.Timestamp.IsZero() {
		bits = append(bits, msg.Timestamp.UTC().Format(cardTimeFormat))
	}
	return strings.Join(bits, " · ")
}

// cardHTML renders a card as Matrix-flavoured HTML. Free text goes through
// goldmark; labels the bot controls are escaped and inlined.
func cardHTML(msg modmail.Message) string {
	var b strings.Builder

	if msg.MentionStaff {
		b.WriteString("@room ")
	}
	if msg.Content != "" {
		b.WriteString(html.EscapeString(msg.Content))
		if msg.IsCard() {
			b.WriteString("<br>")
		}
	}
	if !msg.IsCard() {
		return b.String()
	}

	b.WriteString("<blockquote>")
	if msg.Thumbnail != "" && strings.HasPrefix(msg.Thumbnail, "mxc://") {
		fmt.Fprintf(&b, `<img src="%s" alt="avatar" height="48" width="48"><br>`, html.EscapeString(msg.Thumbnail))
	}
	if msg.Author != nil && msg.Author.Name != "" {
		fmt.Fprintf(&b, "<strong>%s</strong><br>", html.EscapeString(msg.Author.Name))
	}
	if msg.Title != "" {
		fmt.Fprintf(&b, `<h4><font data-mx-color="%s">%s</font></h4>`, msg.Color.Hex(), html.EscapeString(msg.Title))
	}
	if msg.Description != "" {
		b.WriteString(markdownHTML(msg.Description))
	}
	if len(msg.Fields) > 0 {
		b.WriteString("<p>")
		for i, f := range msg.Fields {
			if i > 0 {
				b.WriteString("<br>")
			}
			fmt.Fprintf(&b, "<strong>%s:</strong> %s", html.EscapeString(f.Name), inlineMarkdownHTML(f.Value))
		}
		b.WriteString("</p>")
	}
	if footer := footerLine(msg); footer != "" {
		fmt.Fprintf(&b, `<p><sub><font data-mx-color="%s">%s</font></sub></p>`, msg.Color.Hex(), html.EscapeString(footer))
	}
	b.WriteString("</blockquote>")
	return b.String()
}

// markdownHTML renders block markdown. On a renderer error the escaped
// source is returned.
func markdownHTML(src string) string {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}

// inlineMarkdownHTML renders markdown without the wrapping paragraph, with
// newlines kept as line breaks.
func inlineMarkdownHTML(src string) string {
	lines := strings.Split(src, "\n")
	rendered := lo.Map(lines, func(line string, _ int) string {
		out := markdownHTML(line)
		out = strings.TrimPrefix(out, "<p>")
		return strings.TrimSuffix(out, "</p>")
	})
	return strings.Join(rendered, "<br>")
}
