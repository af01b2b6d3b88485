package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchCode(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		code    VerificationCode
		pattern int
		ok      bool
	}{
		{"labeled english", "Your code: 482913", "482913", 0, true},
		{"french trailing label", "114477 est votre code", "114477", 0, true},
		{"case insensitive label", "VERIFICATION: 123456x", "123456", 2, true},
		{"labeled code glued to suffix", "A1234567 code: 482913x", "482913", 1, true},
		{"confirmation label", "ref1234567confirmation 654321x", "654321", 3, true},
		{"french leading label", "C'est votre code987654y", "987654", 4, true},
		{"seven digits only", "order 1234567", "", -1, false},
		{"no digits", "Bonjour", "", -1, false},
		{"empty", "", "", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, idx, ok := MatchCode(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.pattern, idx)
		})
	}
}

func TestMatchCodeFollowsPatternOrderNotPosition(t *testing.T) {
	// The unrelated reference number wins over the labeled code because the generic
	// pattern is evaluated first.
	code, idx, ok := MatchCode("Ref 999999. Your code: 482913")
	assert.True(t, ok)
	assert.Equal(t, VerificationCode("999999"), code)
	assert.Equal(t, 0, idx)

	code, idx, ok = MatchCode("Votre code: 482913 (ref 999999)")
	assert.True(t, ok)
	assert.Equal(t, VerificationCode("482913"), code)
	assert.Equal(t, 0, idx)
}

func TestPatternListOrder(t *testing.T) {
	expected := []string{
		`(?i)\b(\d{6})\b`,
		`(?i)code[:\s]+(\d{6})`,
		`(?i)verification[:\s]+(\d{6})`,
		`(?i)confirmation[:\s]+(\d{6})`,
		`(?i)est votre code[:\s]*(\d{6})`,
		`(?i)(\d{6}) est votre code`,
		`(?i)code de vérification[:\s]*(\d{6})`,
		`(?i)votre code[:\s]*(\d{6})`,
	}
	actual := make([]string, len(codePatterns))
	for i, re := range codePatterns {
		actual[i] = re.String()
	}
	assert.Equal(t, expected, actual)
}

func TestExtractCode(t *testing.T) {
	t.Run("subject before body", func(t *testing.T) {
		code, ok := ExtractCode(&MailMessage{Subject: "Code 111111", Body: "Your code: 222222"})
		assert.True(t, ok)
		assert.Equal(t, VerificationCode("111111"), code)
	})

	t.Run("body when subject has none", func(t *testing.T) {
		code, ok := ExtractCode(&MailMessage{Subject: "Votre code de vérification", Body: "Your code: 482913"})
		assert.True(t, ok)
		assert.Equal(t, VerificationCode("482913"), code)
	})

	t.Run("french body", func(t *testing.T) {
		code, ok := ExtractCode(&MailMessage{Body: "114477 est votre code"})
		assert.True(t, ok)
		assert.Equal(t, VerificationCode("114477"), code)
	})

	t.Run("nothing", func(t *testing.T) {
		_, ok := ExtractCode(&MailMessage{Subject: "Hello", Body: "no code here"})
		assert.False(t, ok)
		_, ok = ExtractCode(nil)
		assert.False(t, ok)
	})
}

func TestVerificationCodeMasked(t *testing.T) {
	assert.Equal(t, "****13", VerificationCode("482913").Masked())
	assert.Equal(t, "**", VerificationCode("1").Masked())
}
