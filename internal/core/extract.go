package core

import "regexp"

// codePatterns are evaluated in list order and the first one matching anywhere in the
// text wins. The generic six-digit run is first, so a labeled code appearing after an
// unrelated six-digit number is not the one extracted. Keep this order.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(\d{6})\b`),
	regexp.MustCompile(`(?i)code[:\s]+(\d{6})`),
	regexp.MustCompile(`(?i)verification[:\s]+(\d{6})`),
	regexp.MustCompile(`(?i)confirmation[:\s]+(\d{6})`),
	regexp.MustCompile(`(?i)est votre code[:\s]*(\d{6})`),
	regexp.MustCompile(`(?i)(\d{6}) est votre code`),
	regexp.MustCompile(`(?i)code de vérification[:\s]*(\d{6})`),
	regexp.MustCompile(`(?i)votre code[:\s]*(\d{6})`),
}

// MatchCode applies the ordered patterns to text and reports the code and the index of
// the pattern that produced it
func MatchCode(text string) (VerificationCode, int, bool) {
	if text == "" {
		return "", -1, false
	}
	for i, re := range codePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return VerificationCode(m[1]), i, true
		}
	}
	return "", -1, false
}

// ExtractCode looks for a code in the subject first, then in the body
func ExtractCode(msg *MailMessage) (VerificationCode, bool) {
	if msg == nil {
		return "", false
	}
	if code, _, ok := MatchCode(msg.Subject); ok {
		return code, true
	}
	code, _, ok := MatchCode(msg.Body)
	return code, ok
}
