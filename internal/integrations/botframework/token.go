package botframework

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"teams-answer-bot/internal/domain"
)

// OAuthCardContentType is the attachment content type of a sign-in card.
const OAuthCardContentType = "application/vnd.microsoft.card.oauth"

// TokenResponse is returned by the user token service.
type TokenResponse struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token"`
	Expiration     string `json:"expiration,omitempty"`
}

// TokenExchangeResource lets Teams perform SSO without showing the sign-in button.
type TokenExchangeResource struct {
	ID         string `json:"id,omitempty"`
	URI        string `json:"uri,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

// SignInResource is returned by GetSignInResource.
type SignInResource struct {
	SignInLink            string                 `json:"signInLink"`
	TokenExchangeResource *TokenExchangeResource `json:"tokenExchangeResource,omitempty"`
}

// CardAction is a button on an OAuth card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// OAuthCard prompts the user to sign in to the configured connection.
type OAuthCard struct {
	Text                  string                 `json:"text"`
	ConnectionName        string                 `json:"connectionName"`
	Buttons               []CardAction           `json:"buttons"`
	TokenExchangeResource *TokenExchangeResource `json:"tokenExchangeResource,omitempty"`
}

type conversationReference struct {
	ActivityID   string                     `json:"activityId,omitempty"`
	User         domain.ChannelAccount      `json:"user"`
	Bot          domain.ChannelAccount      `json:"bot"`
	Conversation domain.ConversationAccount `json:"conversation"`
	ChannelID    string                     `json:"channelId"`
	ServiceURL   string                     `json:"serviceUrl"`
}

type tokenExchangeState struct {
	ConnectionName string                 `json:"connectionName"`
	Conversation   conversationReference  `json:"conversation"`
	RelatesTo      *conversationReference `json:"relatesTo,omitempty"`
	MsAppID        string                 `json:"msAppId"`
}

type exchangeRequest struct {
	Token string `json:"token"`
}

func (c *Client) userQuery(act domain.Activity) url.Values {
	q := url.Values{}
	q.Set("userId", act.From.ID)
	q.Set("connectionName", c.connectionName)
	q.Set("channelId", act.ChannelID)
	return q
}

// UserToken returns the cached user token for the sender of act. code is the
// optional magic code from a verifyState invoke. An empty token with a nil
// error means the user is not signed in.
func (c *Client) UserToken(ctx context.Context, act domain.Activity, code string) (string, error) {
	if act.From.ID == "" {
		return "", errors.New("botframework: user id is required")
	}
	q := c.userQuery(act)
	if code = strings.TrimSpace(code); code != "" {
		q.Set("code", code)
	}
	var out TokenResponse
	err := c.do(ctx, http.MethodGet, c.tokenServiceURL+"/api/usertoken/GetToken?"+q.Encode(), nil, &out)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("botframework: get user token: %w", err)
	}
	return out.Token, nil
}

// SignOut revokes the sender's token for the connection.
func (c *Client) SignOut(ctx context.Context, act domain.Activity) error {
	if act.From.ID == "" {
		return errors.New("botframework: user id is required")
	}
	err := c.do(ctx, http.MethodDelete, c.tokenServiceURL+"/api/usertoken/SignOut?"+c.userQuery(act).Encode(), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("botframework: sign out: %w", err)
	}
	return nil
}

// ExchangeToken trades a Teams SSO token for a connection token. An empty
// token with a nil error means the exchange was refused and the user must
// consent through the sign-in card.
func (c *Client) ExchangeToken(ctx context.Context, act domain.Activity, ssoToken string) (string, error) {
	if strings.TrimSpace(ssoToken) == "" {
		return "", errors.New("botframework: sso token is required")
	}
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, c.tokenServiceURL+"/api/usertoken/exchange?"+c.userQuery(act).Encode(), exchangeRequest{Token: ssoToken}, &out)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return "", nil
		}
		return "", fmt.Errorf("botframework: exchange token: %w", err)
	}
	return out.Token, nil
}

// SignInResource asks the token service for a sign-in link bound to the
// conversation of act.
func (c *Client) SignInResource(ctx context.Context, act domain.Activity) (SignInResource, error) {
	state, err := c.encodeState(act)
	if err != nil {
		return SignInResource{}, err
	}
	q := url.Values{}
	q.Set("state", state)
	var out SignInResource
	if err := c.do(ctx, http.MethodGet, c.tokenServiceURL+"/api/botsignin/GetSignInResource?"+q.Encode(), nil, &out); err != nil {
		return SignInResource{}, fmt.Errorf("botframework: get sign-in resource: %w", err)
	}
	if out.SignInLink == "" {
		return SignInResource{}, errors.New("botframework: sign-in resource has no link")
	}
	return out, nil
}

// SignInCard builds the OAuth card attachment that starts the sign-in flow.
func (c *Client) SignInCard(ctx context.Context, act domain.Activity, title, text string) (domain.Attachment, error) {
	res, err := c.SignInResource(ctx, act)
	if err != nil {
		return domain.Attachment{}, err
	}
	return domain.Attachment{
		ContentType: OAuthCardContentType,
		Content: OAuthCard{
			Text:                  text,
			ConnectionName:        c.connectionName,
			Buttons:               []CardAction{{Type: "signin", Title: title, Value: res.SignInLink}},
			TokenExchangeResource: res.TokenExchangeResource,
		},
	}, nil
}

func (c *Client) encodeState(act domain.Activity) (string, error) {
	state := tokenExchangeState{
		ConnectionName: c.connectionName,
		Conversation: conversationReference{
			ActivityID:   act.ID,
			User:         act.From,
			Bot:          act.Recipient,
			Conversation: act.Conversation,
			ChannelID:    act.ChannelID,
			ServiceURL:   act.ServiceURL,
		},
		MsAppID: c.appID,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("botframework: marshal sign-in state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
