package classify

import (
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/hostel-concierge/internal/config"
)

// BuildSystemPrompt renders the classifier instructions for the
// configured intent catalog. The catalog is rebuilt per request because
// operators can reload intents at runtime; the buffer pool keeps the
// hot path allocation-free.
func BuildSystemPrompt(intents []config.Intent, languages []string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("You classify guest messages sent to a hostel's front desk.\n")
	buf.WriteString("Pick exactly one intent from this catalog:\n\n")

	for _, in := range intents {
		buf.WriteString("- ")
		buf.WriteString(in.Name)
		if len(in.Keywords) > 0 {
			buf.WriteString(" (keywords: ")
			buf.WriteString(strings.Join(in.Keywords, ", "))
			buf.WriteString(")")
		}
		buf.WriteString("\n")
		for _, ex := range in.Examples {
			buf.WriteString("    e.g. \"")
			buf.WriteString(ex)
			buf.WriteString("\"\n")
		}
	}

	buf.WriteString("- unknown (nothing above fits)\n\n")
	buf.WriteString("Guests write in ")
	if len(languages) > 0 {
		buf.WriteString(strings.Join(languages, ", "))
	} else {
		buf.WriteString("any language")
	}
	buf.WriteString(", often mixing languages in one message.\n\n")
	buf.WriteString("Respond with ONLY a JSON object, no prose:\n")
	buf.WriteString(`{"intent": "<catalog name or unknown>", "confidence": <0.0-1.0>, "language": "<ISO 639-1 code>", "language_confidence": <0.0-1.0>, "entities": {"<name>": "<value>"}}`)
	buf.WriteString("\n")

	return buf.String()
}
