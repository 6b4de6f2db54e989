package providers

import (
	"context"
	"os"

	"golang.org/x/oauth2"

	idlink "github.com/jferrer/idlink"
)

const twitterUserURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"

// twitterEndpoint is the X/Twitter OAuth2 endpoint; x/oauth2 ships no
// preset for it.
var twitterEndpoint = oauth2.Endpoint{
	AuthURL:  "https://twitter.com/i/oauth2/authorize",
	TokenURL: "https://api.twitter.com/2/oauth2/token",
}

// Twitter authenticates against the X/Twitter v2 API. Twitter does not
// expose the account email through this API, so resolved drafts from here
// have no email and signup must collect one.
type Twitter struct {
	Config *oauth2.Config
}

func NewTwitter(clientId string, clientSecret string, callbackUrl string) *Twitter {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_TWITTER_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_TWITTER_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_TWITTER_CALLBACK_URL")
	}
	return &Twitter{
		Config: &oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       []string{"users.read", "tweet.read"},
			Endpoint:     twitterEndpoint,
		},
	}
}

func (t *Twitter) Name() string { return idlink.ProviderTwitter }

func (t *Twitter) AuthCodeURL(state string) string {
	return t.Config.AuthCodeURL(state)
}

func (t *Twitter) Authenticate(ctx context.Context, code string) (*idlink.RawProfile, error) {
	token, err := t.Config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	client := t.Config.Client(ctx, token)

	var payload struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	raw, err := getJSON(ctx, client, twitterUserURL, &payload)
	if err != nil {
		return nil, err
	}

	profile := &idlink.RawProfile{
		Provider:    idlink.ProviderTwitter,
		ExternalID:  payload.Data.ID,
		Username:    payload.Data.Username,
		DisplayName: payload.Data.Name,
		Raw:         raw,
	}
	if payload.Data.ProfileImageURL != "" {
		profile.Photos = []idlink.ProfilePhoto{{Value: payload.Data.ProfileImageURL}}
	}
	return profile, nil
}
