package classify

import "regexp"

// Message types, independent of intent. A complaint is angry; a
// problem is broken; everything else is informational.
const (
	TypeComplaint = "complaint"
	TypeProblem   = "problem"
	TypeInfo      = "info"
)

// Complaint patterns carry escalation or refund language and strong
// negative sentiment; problem patterns describe malfunctions and
// requests for help. Complaint is checked first: a message matching
// both is a complaint.
var (
	complaintRe = regexp.MustCompile(`(?i)terrible|awful|horrible|disgust|unacceptable|worst|refund|money back|complain|manager|ridiculous|scam|never again|teruk|tipu|pulangkan (?:duit|wang)|太差|退钱|退款|投诉|垃圾`)
	problemRe   = regexp.MustCompile(`(?i)not work|doesn'?t work|broken|can'?t |cannot |won'?t |no (?:hot )?water|no electricity|no power|stuck|leak|help me|fix|stopped|rosak|tak (?:boleh|berfungsi|jalan)|tolong|坏了|不能|没有|修|帮我`)
)

// DetectMessageType classifies free text as complaint, problem or
// info. Stateless and language-mixed: patterns cover English, Malay
// and Chinese.
func DetectMessageType(text string) string {
	if complaintRe.MatchString(text) {
		return TypeComplaint
	}
	if problemRe.MatchString(text) {
		return TypeProblem
	}
	return TypeInfo
}
