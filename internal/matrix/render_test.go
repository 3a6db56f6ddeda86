// ABOUTME: Tests for rendering modmail messages into Matrix content
// ABOUTME: Checks msgtypes, mentions, HTML escaping, and the plain-text fallback

package matrix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-modmail/internal/modmail"
)

func TestRenderMessage_PlainText(t *testing.T) {
	content := renderMessage(modmail.Text("❌ This ticket is already being closed."))

	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, "❌ This ticket is already being closed.", content.Body)
	assert.Empty(t, content.FormattedBody)
	require.NotNil(t, content.Mentions)
	assert.False(t, content.Mentions.Room)
}

func TestRenderMessage_StaffPing(t *testing.T) {
	msg := modmail.Message{
		Content:      "New ticket created!",
		MentionStaff: true,
		Title:        "🎫 New Ticket Created",
		Description:  "Ticket created for Alice (@alice:example.org)",
		Fields:       []modmail.Field{{Name: "👤 User", Value: "Alice"}},
		Thumbnail:    "mxc://example.org/avatar",
		Color:        modmail.ColorOpened,
		Timestamp:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}

	content := renderMessage(msg)

	assert.Equal(t, event.MsgText, content.MsgType)
	require.NotNil(t, content.Mentions)
	assert.True(t, content.Mentions.Room)
	assert.True(t, len(content.Body) > 0 && content.Body[:6] == "@room ")
	assert.Equal(t, event.FormatHTML, content.Format)

	html := content.FormattedBody
	assert.Contains(t, html, "@room New ticket created!")
	assert.Contains(t, html, `data-mx-color="#00ff00"`)
	assert.Contains(t, html, `<img src="mxc://example.org/avatar"`)
	assert.Contains(t, html, "<strong>👤 User:</strong> Alice")
	assert.Contains(t, html, "2026-10-19 08:00:00 UTC")
}

func TestRenderMessage_EscapesUserText(t *testing.T) {
	msg := modmail.Message{
		Author:      &modmail.Author{Name: "<b>Mallory</b>"},
		Description: "hi <script>alert(1)</script> **bold**",
		Footer:      "User Message",
	}

	html := renderMessage(msg).FormattedBody

	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "<b>Mallory</b>")
	assert.Contains(t, html, "&lt;b&gt;Mallory&lt;/b&gt;")
	assert.Contains(t, html, "<strong>bold</strong>")
}

func TestRenderMessage_NonMxcThumbnailSkipped(t *testing.T) {
	html := renderMessage(modmail.Message{Title: "x", Thumbnail: "https://evil.example/pixel.png"}).FormattedBody
	assert.NotContains(t, html, "<img")
}

func TestCardMarkdown(t *testing.T) {
	msg := modmail.Message{
		Author:      &modmail.Author{Name: "Staff: Sam"},
		Description: "we shipped a replacement",
		Fields: []modmail.Field{
			{Name: "📎 Attachments", Value: "[label.pdf](https://example.org/label.pdf)"},
		},
		Footer:    "Staff Response",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	want := "**Staff: Sam**\n\n" +
		"we shipped a replacement\n\n" +
		"**📎 Attachments:** [label.pdf](https://example.org/label.pdf)\n\n" +
		"_Staff Response · 2026-01-01 00:00:00 UTC_"
	assert.Equal(t, want, cardMarkdown(msg))
}

func TestInlineMarkdownHTML(t *testing.T) {
	got := inlineMarkdownHTML("[a.png](https://x/a.png)\n[b.png](https://x/b.png)")
	assert.Equal(t, `<a href="https://x/a.png">a.png</a><br><a href="https://x/b.png">b.png</a>`, got)
}
