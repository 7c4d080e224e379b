package browser

import (
	"reflect"
	"testing"

	"github.com/matchpilot/matchpilot/internal/config"
)

func TestResolveSelectorsDefaults(t *testing.T) {
	got := ResolveSelectors(config.SelectorsConfig{})
	want := DefaultSelectors()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("empty config should keep defaults\ngot  %+v\nwant %+v", got, want)
	}
}

func TestResolveSelectorsOverlay(t *testing.T) {
	got := ResolveSelectors(config.SelectorsConfig{
		ProfileCard:  `.new-card`,
		SubmitLabels: []string{"Senden"},
	})

	if got.ProfileCard != ".new-card" {
		t.Errorf("ProfileCard = %q, want .new-card", got.ProfileCard)
	}
	if len(got.SubmitLabels) != 1 || got.SubmitLabels[0] != "Senden" {
		t.Errorf("SubmitLabels = %v, want [Senden]", got.SubmitLabels)
	}
	// Untouched fields keep built-ins.
	def := DefaultSelectors()
	if got.LoginProbe != def.LoginProbe {
		t.Errorf("LoginProbe = %q, want default %q", got.LoginProbe, def.LoginProbe)
	}
	if !reflect.DeepEqual(got.SentMarkers, def.SentMarkers) {
		t.Errorf("SentMarkers = %v, want default %v", got.SentMarkers, def.SentMarkers)
	}
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"ENTER", true},
		{"Return", true},
		{"esc", true},
		{"CTRL", true},
		{"a", true},
		{"/", true},
		{"NOSUCHKEY", false},
	}
	for _, tt := range tests {
		if _, ok := keyFor(tt.name); ok != tt.ok {
			t.Errorf("keyFor(%q) ok = %v, want %v", tt.name, ok, tt.ok)
		}
	}
}
