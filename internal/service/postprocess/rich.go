// Package postprocess turns tagged SenseVoice output into display text.
//
// Raw engine output carries inline tags such as <|en|><|HAPPY|><|BGM|><|withitn|>.
// Rich replaces audio-event tags with a leading emoji and emotion tags with a
// trailing emoji, then drops every other tag.
package postprocess

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type tag struct {
	token string
	emoji string
}

// Ordered: the first emotion with the highest count wins ties.
var emotions = []tag{
	{"<|HAPPY|>", "😊"},
	{"<|SAD|>", "😔"},
	{"<|ANGRY|>", "😡"},
	{"<|NEUTRAL|>", ""},
	{"<|FEARFUL|>", "😰"},
	{"<|DISGUSTED|>", "🤢"},
	{"<|SURPRISED|>", "😮"},
}

var events = []tag{
	{"<|BGM|>", "🎼"},
	{"<|Speech|>", ""},
	{"<|Applause|>", "👏"},
	{"<|Laughter|>", "😀"},
	{"<|Cry|>", "😭"},
	{"<|Sneeze|>", "🤧"},
	{"<|Breath|>", ""},
	{"<|Cough|>", "😷"},
}

// Tags removed without contributing an emoji.
var silentTags = []string{
	"<|EMO_UNKNOWN|>", "<|Sing|>", "<|Speech_Noise|>",
	"<|withitn|>", "<|woitn|>", "<|GBG|>", "<|Event_UNK|>",
}

var languageTags = []string{"<|zh|>", "<|en|>", "<|yue|>", "<|ja|>", "<|ko|>", "<|nospeech|>"}

const (
	unknownEvent = "<|nospeech|><|Event_UNK|>"
	langMarker   = "<|lang|>"
)

var (
	emotionSet = map[rune]bool{'😊': true, '😔': true, '😡': true, '😰': true, '🤢': true, '😮': true}
	eventSet   = map[rune]bool{'🎼': true, '👏': true, '😀': true, '😭': true, '🤧': true, '😷': true}

	anyTag     = regexp.MustCompile(`<\|[^|>]*\|>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Rich converts raw engine output to display text.
func Rich(raw string) string {
	s := strings.ReplaceAll(raw, unknownEvent, "❓")
	for _, l := range languageTags {
		s = strings.ReplaceAll(s, l, langMarker)
	}

	parts := strings.Split(s, langMarker)
	segments := make([]string, len(parts))
	for i, p := range parts {
		segments[i] = strings.Trim(formatSegment(p), " ")
	}

	out := " " + segments[0]
	curEvent := leadingEvent(out)
	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		if ev := leadingEvent(seg); ev != 0 && ev == curEvent {
			_, size := utf8.DecodeRuneInString(seg)
			seg = seg[size:]
		}
		curEvent = leadingEvent(seg)
		if emo := trailingEmotion(seg); emo != 0 && emo == trailingEmotion(out) {
			_, size := utf8.DecodeLastRuneInString(out)
			out = out[:len(out)-size]
		}
		out += strings.TrimSpace(seg)
	}

	return strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
}

// formatSegment handles the text between two language tags.
func formatSegment(s string) string {
	counts := make(map[string]int)
	count := func(token string) {
		counts[token] = strings.Count(s, token)
		s = strings.ReplaceAll(s, token, "")
	}
	for _, t := range emotions {
		count(t.token)
	}
	for _, t := range events {
		count(t.token)
	}
	for _, t := range silentTags {
		count(t)
	}
	s = anyTag.ReplaceAllString(s, "")

	emo := emotions[3] // NEUTRAL
	for _, t := range emotions {
		if counts[t.token] > counts[emo.token] {
			emo = t
		}
	}
	for _, t := range events {
		if counts[t.token] > 0 {
			s = t.emoji + s
		}
	}
	s += emo.emoji

	for r := range emotionSet {
		s = squeezeAround(s, string(r))
	}
	for r := range eventSet {
		s = squeezeAround(s, string(r))
	}
	return strings.TrimSpace(s)
}

func squeezeAround(s, emoji string) string {
	s = strings.ReplaceAll(s, " "+emoji, emoji)
	return strings.ReplaceAll(s, emoji+" ", emoji)
}

func leadingEvent(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	if eventSet[r] {
		return r
	}
	return 0
}

func trailingEmotion(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	if emotionSet[r] {
		return r
	}
	return 0
}

// LeadingLanguage returns the first language tag in raw output ("zh", "en",
// "yue", "ja", "ko"), or "" when there is none.
func LeadingLanguage(raw string) string {
	for _, m := range anyTag.FindAllString(raw, -1) {
		switch code := m[2 : len(m)-2]; code {
		case "zh", "en", "yue", "ja", "ko":
			return code
		}
	}
	return ""
}
