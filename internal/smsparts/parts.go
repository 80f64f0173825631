// Package smsparts implements GSM 03.38 / UCS-2 message segmentation math.
// Everything here is pure and deterministic.
package smsparts

import "strings"

// Encodings
const (
	EncodingGSM7 = "GSM7"
	EncodingUCS2 = "UCS2"
)

// Segment limits per the SMPP user data rules: a single GSM7 message fits
// 160 septets, multipart segments fit 153; UCS-2 fits 70 and 67.
const (
	gsm7SingleLimit = 160
	gsm7PartLimit   = 153
	ucs2SingleLimit = 70
	ucs2PartLimit   = 67
)

var gsm7Basic = buildSet(
	"@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà")

var gsm7Extended = buildSet("^{}\\[~]|€")

func buildSet(chars string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		set[r] = struct{}{}
	}
	return set
}

// Calculate returns the number of SMS parts a message occupies and the
// encoding it requires. Extended GSM7 characters consume two septets.
func Calculate(message string) (int, string) {
	canUseGSM7 := true
	extendedChars := 0

	for _, r := range message {
		if _, ok := gsm7Basic[r]; ok {
			continue
		}
		if _, ok := gsm7Extended[r]; ok {
			extendedChars++
			continue
		}
		canUseGSM7 = false
		break
	}

	runeLen := len([]rune(message))

	if canUseGSM7 {
		effectiveLength := runeLen + extendedChars
		if effectiveLength <= gsm7SingleLimit {
			return 1, EncodingGSM7
		}
		return (effectiveLength + gsm7PartLimit - 1) / gsm7PartLimit, EncodingGSM7
	}

	if runeLen <= ucs2SingleLimit {
		return 1, EncodingUCS2
	}
	return (runeLen + ucs2PartLimit - 1) / ucs2PartLimit, EncodingUCS2
}

// normalizeReplacements maps typographic characters to their cheap GSM7
// equivalents.
var normalizeReplacements = []struct {
	old string
	new string
}{
	{"“", `"`}, // left double quote
	{"”", `"`}, // right double quote
	{"‘", "'"}, // left single quote
	{"’", "'"}, // right single quote
	{"—", "-"}, // em dash
	{"–", "-"}, // en dash
	{"…", "..."},
	{"№", "N"}, // numero sign
	{"°", " "},
	{"™", "(TM)"},
	{"©", "(C)"},
	{"®", "(R)"},
}

// NormalizeResult reports the effect of replacing expensive characters.
type NormalizeResult struct {
	Original           string  `json:"original_message"`
	Normalized         string  `json:"normalized_message"`
	OriginalLength     int     `json:"original_length"`
	NormalizedLength   int     `json:"normalized_length"`
	OriginalParts      int     `json:"original_parts"`
	NormalizedParts    int     `json:"normalized_parts"`
	SavingsPercent     float64 `json:"savings_percent"`
	OriginalEncoding   string  `json:"original_encoding"`
	NormalizedEncoding string  `json:"normalized_encoding"`
}

// Normalize replaces typographic characters that force UCS-2 or extended
// septets with plain equivalents, and reports the parts saved.
func Normalize(message string) NormalizeResult {
	normalized := message
	for _, r := range normalizeReplacements {
		normalized = strings.ReplaceAll(normalized, r.old, r.new)
	}

	originalParts, originalEnc := Calculate(message)
	normalizedParts, normalizedEnc := Calculate(normalized)

	savings := 0.0
	if originalParts > normalizedParts {
		savings = float64(originalParts-normalizedParts) / float64(originalParts) * 100
	}

	return NormalizeResult{
		Original:           message,
		Normalized:         normalized,
		OriginalLength:     len([]rune(message)),
		NormalizedLength:   len([]rune(normalized)),
		OriginalParts:      originalParts,
		NormalizedParts:    normalizedParts,
		SavingsPercent:     savings,
		OriginalEncoding:   originalEnc,
		NormalizedEncoding: normalizedEnc,
	}
}
