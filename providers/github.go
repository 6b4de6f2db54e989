package providers

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	idlink "github.com/jferrer/idlink"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// GitHub authenticates against the GitHub OAuth2 API.
type GitHub struct {
	Config *oauth2.Config
}

func NewGitHub(clientId string, clientSecret string, callbackUrl string) *GitHub {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_GITHUB_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_GITHUB_CALLBACK_URL")
	}
	return &GitHub{
		Config: &oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (g *GitHub) Name() string { return idlink.ProviderGitHub }

func (g *GitHub) AuthCodeURL(state string) string {
	return g.Config.AuthCodeURL(state)
}

func (g *GitHub) Authenticate(ctx context.Context, code string) (*idlink.RawProfile, error) {
	token, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	client := g.Config.Client(ctx, token)

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	raw, err := getJSON(ctx, client, githubUserURL, &user)
	if err != nil {
		return nil, err
	}

	profile := &idlink.RawProfile{
		Provider:    idlink.ProviderGitHub,
		ExternalID:  strconv.FormatInt(user.ID, 10),
		Username:    user.Login,
		DisplayName: user.Name,
		Raw:         raw,
	}
	if user.AvatarURL != "" {
		profile.Photos = []idlink.ProfilePhoto{{Value: user.AvatarURL}}
	}
	if user.Email != "" {
		profile.Emails = []idlink.ProfileEmail{{Value: user.Email}}
	} else {
		// The public email is often hidden; the emails endpoint still
		// reports the verified primary.
		profile.Emails = g.fetchEmails(ctx, token)
	}
	return profile, nil
}

func (g *GitHub) fetchEmails(ctx context.Context, token *oauth2.Token) []idlink.ProfileEmail {
	client := g.Config.Client(ctx, token)
	var entries []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if _, err := getJSON(ctx, client, githubEmailsURL, &entries); err != nil {
		return nil
	}
	var emails []idlink.ProfileEmail
	for _, e := range entries {
		if e.Primary {
			emails = append([]idlink.ProfileEmail{{Value: e.Email}}, emails...)
		} else {
			emails = append(emails, idlink.ProfileEmail{Value: e.Email})
		}
	}
	return emails
}
