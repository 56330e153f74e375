package oauth2x

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// provider is the built-in knowledge about one upstream: where to send the
// user, where to read the profile and which JSON paths hold the subject and
// email.
type provider struct {
	endpoint    oauth2.Endpoint
	profileURL  string
	scopes      []string
	subjectPath string
	emailPath   string
}

var catalog = map[string]provider{
	"discord": {
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://discord.com/oauth2/authorize",
			TokenURL: "https://discord.com/api/oauth2/token",
		},
		profileURL:  "https://discord.com/api/users/@me",
		scopes:      []string{"identify", "email"},
		subjectPath: "id",
		emailPath:   "email",
	},
	"facebook": {
		endpoint:    endpoints.Facebook,
		profileURL:  "https://graph.facebook.com/me?fields=id,email",
		scopes:      []string{"email", "public_profile"},
		subjectPath: "id",
		emailPath:   "email",
	},
	"github": {
		endpoint:    endpoints.GitHub,
		profileURL:  "https://api.github.com/user",
		scopes:      []string{"read:user", "user:email"},
		subjectPath: "id",
		emailPath:   "email",
	},
	"google": {
		endpoint:    endpoints.Google,
		profileURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		scopes:      []string{"openid", "email", "profile"},
		subjectPath: "sub",
		emailPath:   "email",
	},
	"linkedin": {
		endpoint:    endpoints.LinkedIn,
		profileURL:  "https://api.linkedin.com/v2/userinfo",
		scopes:      []string{"openid", "profile", "email"},
		subjectPath: "sub",
		emailPath:   "email",
	},
	"microsoft": {
		endpoint:    endpoints.AzureAD("common"),
		profileURL:  "https://graph.microsoft.com/oidc/userinfo",
		scopes:      []string{"openid", "email", "profile"},
		subjectPath: "sub",
		emailPath:   "email",
	},
	// Reddit never discloses an email.
	"reddit": {
		endpoint: oauth2.Endpoint{
			AuthURL:   "https://www.reddit.com/api/v1/authorize",
			TokenURL:  "https://www.reddit.com/api/v1/access_token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		profileURL:  "https://oauth.reddit.com/api/v1/me",
		scopes:      []string{"identity"},
		subjectPath: "id",
	},
}

// Known reports whether id is in the built-in catalog.
func Known(id string) bool {
	_, ok := catalog[id]
	return ok
}
