package browser

import "github.com/matchpilot/matchpilot/internal/config"

// Selectors is the resolved set of site selector strings and confirmation
// heuristics. The site's labels drift, so everything here is swappable
// through configuration; the defaults target the current co-founder
// matching site.
type Selectors struct {
	LoginProbe  string
	LoginURL    string
	LoginUser   string
	LoginPass   string
	LoginSubmit string

	ProfileCard string
	ProfileRoot string
	ProfileName string

	ReplyPlaceholders []string
	SubmitLabels      []string
	SentMarkers       []string
	SkipControl       string
}

// DefaultSelectors returns the built-in selector set.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginProbe:  `a[href*="/logout"], [data-testid="nav-profile"]`,
		LoginUser:   `input[name="email"], input[type="email"]`,
		LoginPass:   `input[name="password"], input[type="password"]`,
		LoginSubmit: `button[type="submit"]`,

		ProfileCard: `[data-testid="candidate-card"], .css-profile-card`,
		ProfileRoot: `[data-testid="profile-content"], .profile-detail`,
		ProfileName: `[data-testid="profile-name"], .profile-detail h1`,

		ReplyPlaceholders: []string{
			"Say hello",
			"Write a message",
			"Introduce yourself",
		},
		SubmitLabels: []string{
			"Invite to connect",
			"Send",
			"Connect",
		},
		SentMarkers: []string{
			"Invite sent",
			"Message sent",
			"Pending",
		},
		SkipControl: `[data-testid="skip-button"]`,
	}
}

// ResolveSelectors overlays configured selector strings on the defaults.
// Empty config fields keep the built-in values.
func ResolveSelectors(cfg config.SelectorsConfig) Selectors {
	s := DefaultSelectors()

	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	list := func(v []string, dst *[]string) {
		if len(v) > 0 {
			*dst = v
		}
	}

	str(cfg.LoginProbe, &s.LoginProbe)
	str(cfg.LoginURL, &s.LoginURL)
	str(cfg.LoginUser, &s.LoginUser)
	str(cfg.LoginPass, &s.LoginPass)
	str(cfg.LoginSubmit, &s.LoginSubmit)
	str(cfg.ProfileCard, &s.ProfileCard)
	str(cfg.ProfileRoot, &s.ProfileRoot)
	str(cfg.ProfileName, &s.ProfileName)
	list(cfg.ReplyPlaceholders, &s.ReplyPlaceholders)
	list(cfg.SubmitLabels, &s.SubmitLabels)
	list(cfg.SentMarkers, &s.SentMarkers)
	str(cfg.SkipControl, &s.SkipControl)

	return s
}
