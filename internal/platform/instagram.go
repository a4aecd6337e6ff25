package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/pkg/utils"
)

const instagramGraphURL = "https://graph.instagram.com"

type instagramContainerResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type instagramInsightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type instagramTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type InstagramAdapter struct {
	cfg    config.Config
	client *http.Client
}

func NewInstagramAdapter(cfg config.Config) *InstagramAdapter {
	return &InstagramAdapter{cfg: cfg, client: &http.Client{}}
}

func (a *InstagramAdapter) Name() string {
	return "instagram"
}

// Publish uses the two-step container flow: create a media container for the
// asset, then publish the container. The returned media id is the
// platform_post_id.
func (a *InstagramAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, req *PublishRequest) (string, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return "", WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	if len(req.Media) == 0 {
		return "", NewError(KindContentRejected, "instagram publish requires media")
	}

	containerID, err := a.createContainer(ctx, account.AccountID, accessToken, req)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("creation_id", containerID)
	params.Set("access_token", accessToken)

	endpoint := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, account.AccountID)
	var publishResp instagramContainerResponse
	if err := a.post(ctx, endpoint, params, &publishResp); err != nil {
		return "", err
	}
	if publishResp.Error != nil {
		return "", classifyGraphError(publishResp.Error.Code, publishResp.Error.Message)
	}
	if publishResp.ID == "" {
		return "", NewError(KindTransient, "instagram publish returned no media id")
	}

	return publishResp.ID, nil
}

func (a *InstagramAdapter) createContainer(ctx context.Context, igUserID, accessToken string, req *PublishRequest) (string, error) {
	asset := req.Media[0]

	params := url.Values{}
	params.Set("caption", req.Post.Caption)
	params.Set("access_token", accessToken)
	if asset.FileType == "video" {
		params.Set("media_type", "REELS")
		params.Set("video_url", asset.FileURL)
	} else {
		params.Set("image_url", asset.FileURL)
	}

	endpoint := fmt.Sprintf("%s/%s/media", instagramGraphURL, igUserID)
	var containerResp instagramContainerResponse
	if err := a.post(ctx, endpoint, params, &containerResp); err != nil {
		return "", err
	}
	if containerResp.Error != nil {
		return "", classifyGraphError(containerResp.Error.Code, containerResp.Error.Message)
	}
	if containerResp.ID == "" {
		return "", NewError(KindTransient, "instagram container creation returned no id")
	}
	return containerResp.ID, nil
}

func (a *InstagramAdapter) FetchMetrics(ctx context.Context, account *models.ConnectedAccount, platformPostID string) (*MetricSet, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	endpoint := fmt.Sprintf("%s/%s/insights?metric=likes,comments,shares,impressions,reach&access_token=%s",
		instagramGraphURL, platformPostID, url.QueryEscape(accessToken))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(KindTransient, "instagram insights request failed", err)
	}
	defer resp.Body.Close()

	var insights instagramInsightsResponse
	if err := json.NewDecoder(resp.Body).Decode(&insights); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, "failed to decode insights response", err)
	}

	if insights.Error != nil {
		return nil, classifyGraphError(insights.Error.Code, insights.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(kindForStatus(resp.StatusCode), fmt.Sprintf("instagram insights status %d", resp.StatusCode))
	}

	metrics := &MetricSet{}
	for _, metric := range insights.Data {
		if len(metric.Values) == 0 {
			continue
		}
		value := metric.Values[0].Value
		switch metric.Name {
		case "likes":
			metrics.Likes = value
		case "comments":
			metrics.Comments = value
		case "shares":
			metrics.Shares = value
		case "impressions":
			metrics.Impressions = value
		case "reach":
			metrics.Reach = value
		}
	}
	return metrics, nil
}

// RefreshToken extends a long-lived Instagram token. Instagram does not
// rotate the refresh token; the refreshed access token is its own refresh
// token.
func (a *InstagramAdapter) RefreshToken(ctx context.Context, account *models.ConnectedAccount) (*Credentials, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	endpoint := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		instagramGraphURL, url.QueryEscape(accessToken))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(KindTransient, "instagram token request failed", err)
	}
	defer resp.Body.Close()

	var tokenResp instagramTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, "failed to decode token response", err)
	}

	if tokenResp.Error != nil {
		if tokenResp.Error.Type == "OAuthException" {
			return nil, NewError(KindAuthRequired, "instagram rejected token refresh: "+tokenResp.Error.Message)
		}
		return nil, NewError(KindTransient, tokenResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(kindForStatus(resp.StatusCode), fmt.Sprintf("instagram refresh status %d", resp.StatusCode))
	}

	return &Credentials{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

func (a *InstagramAdapter) post(ctx context.Context, endpoint string, params url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.URL.RawQuery = params.Encode()

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return WrapError(KindTransient, "instagram request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return NewError(kindForStatus(resp.StatusCode), fmt.Sprintf("instagram status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Info(err.Error())
		return WrapError(KindTransient, "failed to decode instagram response", err)
	}
	return nil
}

// classifyGraphError maps Graph API error codes. Code 190 is the invalid
// token family; code 4 and 17 are throttling; most 36xxx media codes are
// permanent content failures.
func classifyGraphError(code int, message string) *PlatformError {
	switch {
	case code == 190:
		return NewError(KindAuthRequired, message)
	case code == 4 || code == 17 || code == 32:
		return NewError(KindRateLimited, message)
	case code == 100:
		return NewError(KindNotFound, message)
	case code >= 36000:
		return NewError(KindContentRejected, message)
	default:
		return NewError(KindTransient, fmt.Sprintf("graph error %d: %s", code, message))
	}
}
