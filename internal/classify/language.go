package classify

// Language decision thresholds. The per-reply override is cheaper to
// reverse than rewriting the sender's sticky language, so persisting a
// switch demands more conviction than answering in it once.
const (
	replyOverrideThreshold = 0.70
	stickyPersistThreshold = 0.80
)

// LanguageResolver arbitrates between the language a classifier tier
// detected on one message and the sticky language stored for the
// conversation.
type LanguageResolver struct {
	supported map[string]bool
}

// NewLanguageResolver restricts decisions to the supported language
// set. Detections outside the set never override or persist.
func NewLanguageResolver(supported []string) *LanguageResolver {
	set := make(map[string]bool, len(supported))
	for _, l := range supported {
		set[l] = true
	}
	return &LanguageResolver{supported: set}
}

// ResolveResponseLanguage picks the language to reply in. A concrete,
// recognized detection at confidence 0.70 or above wins; anything
// weaker keeps the conversation's sticky language.
func (lr *LanguageResolver) ResolveResponseLanguage(detected, sticky string, confidence float64) string {
	if lr.recognized(detected) && confidence >= replyOverrideThreshold {
		return detected
	}
	return sticky
}

// ShouldPersistLanguage reports whether the stored sticky language
// should be rewritten to the detection. Requires a recognized language
// that differs from the stored one at confidence 0.80 or above.
func (lr *LanguageResolver) ShouldPersistLanguage(detected, sticky string, confidence float64) bool {
	return lr.recognized(detected) && detected != sticky && confidence >= stickyPersistThreshold
}

func (lr *LanguageResolver) recognized(lang string) bool {
	if lang == "" || lang == "unknown" {
		return false
	}
	return lr.supported[lang]
}
