// Package tts defines the interface for text-to-speech synthesis.
//
// Macaria speaks the usage help on request. Backends turn text into a WAV
// clip; the Announcer plays it and reports progress on the status sink.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCredential is returned by backends that need an API key when none
// could be resolved.
var ErrNoCredential = errors.New("no credential for speech synthesis")

// Request controls one synthesis call.
type Request struct {
	Text string

	// Locale is a BCP-47 tag such as "es-MX". Backends fall back to the
	// language part when they have no voice for the full locale.
	Locale string

	// Rate is the speaking speed multiplier; 1 is normal.
	Rate float64

	// Pitch is the pitch multiplier; 1 is normal. Backends that cannot
	// change pitch ignore it.
	Pitch float64

	// Voice overrides automatic voice selection.
	Voice string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Synthesize generates a WAV clip for the request.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// Result holds the output of TTS synthesis.
type Result struct {
	// Audio is the synthesized audio as a WAV file.
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/wav").
	ContentType string

	// SampleRate is the audio sample rate in Hz (e.g., 22050).
	SampleRate int

	// Channels is the number of audio channels (typically 1).
	Channels int
}

// Voice describes a voice a backend can use. An empty Locale means the
// voice speaks any language; an empty Gender means unknown.
type Voice struct {
	Name   string
	Locale string
	Gender string
}

// SelectVoice picks the best voice for locale and gender. An exact locale
// match outranks a language match, which outranks a multilingual voice.
// Gender breaks ties. Voices for other languages are never chosen. The
// first voice wins among equals; "" is returned when nothing fits.
func SelectVoice(voices []Voice, locale, gender string) string {
	locale = NormalizeLocale(locale)
	lang := Language(locale)
	gender = strings.ToLower(strings.TrimSpace(gender))

	best, bestScore := "", 0
	for _, v := range voices {
		score := 0
		vl := NormalizeLocale(v.Locale)
		switch {
		case vl == "":
			score = 1
		case locale != "" && vl == locale:
			score = 6
		case lang != "" && Language(vl) == lang:
			score = 4
		default:
			continue
		}
		if gender != "" && strings.EqualFold(v.Gender, gender) {
			score++
		}
		if score > bestScore {
			best, bestScore = v.Name, score
		}
	}
	return best
}

// NormalizeLocale canonicalizes "es_mx" or "ES-mx" to "es-MX".
func NormalizeLocale(locale string) string {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	lang, region, ok := strings.Cut(locale, "-")
	if !ok {
		return strings.ToLower(lang)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}

// Language returns the language part of a locale ("es-MX" -> "es").
func Language(locale string) string {
	lang, _, _ := strings.Cut(NormalizeLocale(locale), "-")
	return lang
}
