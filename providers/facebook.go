package providers

import (
	"context"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	idlink "github.com/jferrer/idlink"
)

const facebookUserURL = "https://graph.facebook.com/me?fields=id,name,email,picture"

// Facebook authenticates against the Facebook Graph API.
type Facebook struct {
	Config *oauth2.Config
}

func NewFacebook(clientId string, clientSecret string, callbackUrl string) *Facebook {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_FACEBOOK_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_FACEBOOK_CALLBACK_URL")
	}
	return &Facebook{
		Config: &oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       []string{"email", "public_profile"},
			Endpoint:     facebook.Endpoint,
		},
	}
}

func (f *Facebook) Name() string { return idlink.ProviderFacebook }

func (f *Facebook) AuthCodeURL(state string) string {
	return f.Config.AuthCodeURL(state)
}

func (f *Facebook) Authenticate(ctx context.Context, code string) (*idlink.RawProfile, error) {
	token, err := f.Config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	client := f.Config.Client(ctx, token)

	var user struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	raw, err := getJSON(ctx, client, facebookUserURL, &user)
	if err != nil {
		return nil, err
	}

	profile := &idlink.RawProfile{
		Provider:    idlink.ProviderFacebook,
		ExternalID:  user.ID,
		DisplayName: user.Name,
		Raw:         raw,
	}
	if user.Email != "" {
		profile.Emails = []idlink.ProfileEmail{{Value: user.Email}}
	}
	if user.Picture.Data.URL != "" {
		profile.Photos = []idlink.ProfilePhoto{{Value: user.Picture.Data.URL}}
	}
	return profile, nil
}
