package postprocess

import "testing"

func TestRich(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"neutral speech", "<|zh|><|NEUTRAL|><|Speech|><|withitn|>你好。", "你好。"},
		{"emotion suffix", "<|en|><|HAPPY|><|Speech|><|withitn|>Great news.", "Great news.😊"},
		{"event prefix", "<|en|><|NEUTRAL|><|BGM|><|withitn|>Music playing.", "🎼Music playing."},
		{"event and emotion", "<|en|><|SAD|><|Cry|><|woitn|>oh no", "😭oh no😔"},
		{"unknown event", "<|nospeech|><|Event_UNK|>", "❓"},
		{"repeated event merged", "<|en|><|NEUTRAL|><|BGM|><|withitn|>one<|en|><|NEUTRAL|><|BGM|><|withitn|>two", "🎼onetwo"},
		{"repeated emotion merged", "<|en|><|HAPPY|><|Speech|><|withitn|>a<|en|><|HAPPY|><|Speech|><|withitn|>b", "ab😊"},
		{"plain text", "hello world", "hello world"},
		{"whitespace collapsed", "<|en|><|NEUTRAL|><|Speech|><|withitn|>hello   big \n world", "hello big world"},
		{"unknown tag stripped", "<|en|><|NEUTRAL|><|Speech|><|SomethingNew|>text", "text"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rich(tt.raw); got != tt.want {
				t.Errorf("Rich(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLeadingLanguage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"<|zh|><|NEUTRAL|><|Speech|><|withitn|>你好", "zh"},
		{"<|yue|><|NEUTRAL|>唔該", "yue"},
		{"<|nospeech|><|Event_UNK|>", ""},
		{"<|NEUTRAL|><|ko|>text", "ko"},
		{"no tags", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := LeadingLanguage(tt.raw); got != tt.want {
			t.Errorf("LeadingLanguage(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
