package linker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"unibox/internal/model"
)

const (
	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	graphMeURL        = "https://graph.microsoft.com/v1.0/me"
)

// FetchProfile resolves the provider identity for a freshly issued
// access token. It is the default ProfileFunc.
func FetchProfile(ctx context.Context, provider model.Provider, accessToken string) (*Profile, error) {
	var url string
	switch provider {
	case model.ProviderGmail:
		url = googleUserinfoURL
	case model.ProviderOutlook:
		url = graphMeURL
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	switch provider {
	case model.ProviderGmail:
		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		return &Profile{Email: body.Email, DisplayName: body.Name}, nil
	default:
		var body struct {
			Mail              string `json:"mail"`
			UserPrincipalName string `json:"userPrincipalName"`
			DisplayName       string `json:"displayName"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		email := body.Mail
		if email == "" {
			email = body.UserPrincipalName
		}
		return &Profile{Email: email, DisplayName: body.DisplayName}, nil
	}
}
