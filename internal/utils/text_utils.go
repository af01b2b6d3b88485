package utils

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
)

const (
	EncodingUTF8    = "utf-8"
	EncodingUTF16LE = "utf-16le"
	EncodingUTF16BE = "utf-16be"
)

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// TextProcessor provides utilities for processing text
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// NormalizeEncoding re-encodes a payload to UTF-8. UTF-16 is detected from its byte
// order mark, or from the position of NUL bytes, little-endian first. Anything else is
// assumed to already be UTF-8 and returned unchanged, so normalizing twice is a no-op.
func (tp *TextProcessor) NormalizeEncoding(data []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF16LE):
		return tp.decodeUTF16(data, unicode.LittleEndian, unicode.ExpectBOM, EncodingUTF16LE)
	case bytes.HasPrefix(data, bomUTF16BE):
		return tp.decodeUTF16(data, unicode.BigEndian, unicode.ExpectBOM, EncodingUTF16BE)
	}

	if utf8.Valid(data) && bytes.IndexByte(data, 0) < 0 {
		return data, EncodingUTF8, nil
	}

	if len(data)%2 == 0 {
		if looksLikeUTF16(data, 1) {
			if out, name, err := tp.decodeUTF16(data, unicode.LittleEndian, unicode.IgnoreBOM, EncodingUTF16LE); err == nil && utf8.Valid(out) {
				return out, name, nil
			}
		}
		if looksLikeUTF16(data, 0) {
			if out, name, err := tp.decodeUTF16(data, unicode.BigEndian, unicode.IgnoreBOM, EncodingUTF16BE); err == nil && utf8.Valid(out) {
				return out, name, nil
			}
		}
	}

	tp.logger.Debug("Payload encoding not recognised, keeping bytes as-is", zap.Int("size", len(data)))
	return data, EncodingUTF8, nil
}

func (tp *TextProcessor) decodeUTF16(data []byte, order unicode.Endianness, bom unicode.BOMPolicy, name string) ([]byte, string, error) {
	out, err := unicode.UTF16(order, bom).NewDecoder().Bytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s payload: %w", name, err)
	}
	tp.logger.Debug("Payload re-encoded to UTF-8",
		zap.String("source_encoding", name),
		zap.Int("original_size", len(data)),
		zap.Int("normalized_size", len(out)))
	return out, name, nil
}

// looksLikeUTF16 reports whether most code units carry a NUL at the given byte offset,
// which is where the high byte of Latin text sits: 1 for little-endian, 0 for big-endian
func looksLikeUTF16(data []byte, offset int) bool {
	units := len(data) / 2
	if units == 0 {
		return false
	}
	zeros := 0
	for i := offset; i < len(data); i += 2 {
		if data[i] == 0 {
			zeros++
		}
	}
	return zeros*2 >= units
}

// TruncateText safely truncates text to the specified maximum size
// and ensures the result is valid UTF-8
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated
}

// SanitizeUTF8 drops invalid UTF-8 sequences
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	result := make([]rune, 0, len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size == 1 {
				continue
			}
		}
		result = append(result, r)
	}

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(string(result))))

	return string(result)
}

// ProcessText truncates and sanitizes a mail body in one operation
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	return tp.SanitizeUTF8(tp.TruncateText(text, maxSize))
}
