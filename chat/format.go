package chat

import "regexp"

// mIRC control codes: bold, colour (with optional fg[,bg]), hex colour,
// reset, monospace, italic, strikethrough, underline, reverse.
var formatting = regexp.MustCompile("\x03(?:\\d{1,2}(?:,\\d{1,2})?)?|\x04(?:[0-9a-fA-F]{6}(?:,[0-9a-fA-F]{6})?)?|[\x02\x0f\x11\x16\x1d\x1e\x1f]")

// StripFormatting removes IRC colour and formatting codes from s.
func StripFormatting(s string) string {
	return formatting.ReplaceAllString(s, "")
}
