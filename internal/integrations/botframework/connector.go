package botframework

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"teams-answer-bot/internal/domain"
)

type resourceResponse struct {
	ID string `json:"id"`
}

// SendActivity posts activity into the conversation of inbound, as a reply
// when activity.ReplyToID is set. It returns the id assigned by the channel.
func (c *Client) SendActivity(ctx context.Context, inbound domain.Activity, activity domain.Activity) (string, error) {
	target, err := activitiesURL(inbound.ServiceURL, inbound.Conversation.ID, activity.ReplyToID, c.trustedHosts)
	if err != nil {
		return "", err
	}
	var out resourceResponse
	if err := c.do(ctx, http.MethodPost, target, activity, &out); err != nil {
		return "", fmt.Errorf("botframework: send activity: %w", err)
	}
	return out.ID, nil
}

func activitiesURL(serviceURL, conversationID, replyToID string, trusted []string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("botframework: conversation id is required")
	}
	base, err := validateServiceURL(serviceURL, trusted)
	if err != nil {
		return "", err
	}
	target := base + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	if replyToID != "" {
		target += "/" + url.PathEscape(replyToID)
	}
	return target, nil
}

// DefaultTrustedServiceHosts are the domains the channel connector is
// served from. A host matches when it equals an entry or is a subdomain of it.
var DefaultTrustedServiceHosts = []string{
	"botframework.com",
	"trafficmanager.net",
	"botframework.azure.us",
	"botframework.us",
}

// validateServiceURL only allows https service URLs on a trusted host, plus
// loopback hosts used by the emulator. The bot token is attached to every
// request sent there.
func validateServiceURL(serviceURL string, trusted []string) (string, error) {
	serviceURL = strings.TrimRight(strings.TrimSpace(serviceURL), "/")
	if serviceURL == "" {
		return "", errors.New("botframework: service url is required")
	}
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("botframework: invalid service url %q", serviceURL)
	}
	host := strings.ToLower(u.Hostname())
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(host) {
			return "", fmt.Errorf("botframework: insecure service url %q", serviceURL)
		}
	default:
		return "", fmt.Errorf("botframework: unsupported service url scheme %q", u.Scheme)
	}
	if !isLoopback(host) && !hostTrusted(host, trusted) {
		return "", fmt.Errorf("botframework: untrusted service url host %q", host)
	}
	return serviceURL, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func hostTrusted(host string, trusted []string) bool {
	for _, suffix := range trusted {
		suffix = strings.ToLower(strings.Trim(strings.TrimSpace(suffix), "."))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
