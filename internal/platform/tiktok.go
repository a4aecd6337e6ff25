package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/pkg/utils"
)

const (
	tiktokTokenURL   = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokPublishURL = "https://open.tiktokapis.com/v2/post/publish/video/init/"
	tiktokQueryURL   = "https://open.tiktokapis.com/v2/video/query/?fields=id,like_count,comment_count,share_count,view_count"
)

type tiktokPublishRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokPostInfo struct {
	Title        string `json:"title"`
	PrivacyLevel string `json:"privacy_level"`
}

type tiktokSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokPublishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tiktokQueryResponse struct {
	Data struct {
		Videos []struct {
			ID           string `json:"id"`
			LikeCount    int64  `json:"like_count"`
			CommentCount int64  `json:"comment_count"`
			ShareCount   int64  `json:"share_count"`
			ViewCount    int64  `json:"view_count"`
		} `json:"videos"`
	} `json:"data"`
}

type tiktokTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
}

type TiktokAdapter struct {
	cfg    config.Config
	client *http.Client
}

func NewTiktokAdapter(cfg config.Config) *TiktokAdapter {
	return &TiktokAdapter{cfg: cfg, client: &http.Client{}}
}

func (a *TiktokAdapter) Name() string {
	return "tiktok"
}

func (a *TiktokAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, req *PublishRequest) (string, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return "", WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	if len(req.Media) == 0 {
		return "", NewError(KindContentRejected, "tiktok publish requires a video")
	}

	body := tiktokPublishRequest{
		PostInfo: tiktokPostInfo{
			Title:        req.Post.Caption,
			PrivacyLevel: "PUBLIC_TO_EVERYONE",
		},
		SourceInfo: tiktokSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: req.Media[0].FileURL,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokPublishURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("Idempotency-Key", req.DedupeToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", WrapError(KindTransient, "tiktok publish request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		slog.Info("tiktok publish returned non-200", "status", resp.StatusCode)
		return "", NewError(kindForStatus(resp.StatusCode), fmt.Sprintf("tiktok publish status %d: %s", resp.StatusCode, bodyBytes))
	}

	var publishResp tiktokPublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&publishResp); err != nil {
		slog.Info(err.Error())
		return "", WrapError(KindTransient, "failed to decode publish response", err)
	}

	if publishResp.Error.Code != "" && publishResp.Error.Code != "ok" {
		return "", a.classifyAPIError(publishResp.Error.Code, publishResp.Error.Message)
	}
	if publishResp.Data.PublishID == "" {
		return "", NewError(KindTransient, "tiktok publish returned no publish_id")
	}

	return publishResp.Data.PublishID, nil
}

func (a *TiktokAdapter) FetchMetrics(ctx context.Context, account *models.ConnectedAccount, platformPostID string) (*MetricSet, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	filter := map[string]any{"filters": map[string]any{"video_ids": []string{platformPostID}}}
	payload, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokQueryURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(KindTransient, "tiktok query request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(kindForStatus(resp.StatusCode), fmt.Sprintf("tiktok query status %d", resp.StatusCode))
	}

	var queryResp tiktokQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, "failed to decode query response", err)
	}

	// An empty result for a known id means the video was deleted on platform.
	if len(queryResp.Data.Videos) == 0 {
		return nil, NewError(KindNotFound, "video no longer exists on tiktok")
	}

	v := queryResp.Data.Videos[0]
	return &MetricSet{
		Likes:       v.LikeCount,
		Shares:      v.ShareCount,
		Comments:    v.CommentCount,
		Impressions: v.ViewCount,
		Reach:       v.ViewCount,
	}, nil
}

func (a *TiktokAdapter) RefreshToken(ctx context.Context, account *models.ConnectedAccount) (*Credentials, error) {
	refreshToken, err := utils.Decrypt(account.RefreshToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored refresh token unreadable", err)
	}

	data := url.Values{}
	data.Set("client_key", a.cfg.TiktokClientKey)
	data.Set("client_secret", a.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(KindTransient, "tiktok token request failed", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, "failed to read token response", err)
	}

	var tokenResp tiktokTokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return nil, WrapError(KindTransient, "failed to decode token response", err)
	}

	if tokenResp.Error != "" || resp.StatusCode != http.StatusOK {
		if tokenResp.Error == "invalid_grant" || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return nil, NewError(KindAuthRequired, "tiktok rejected refresh token: "+tokenResp.Error)
		}
		return nil, NewError(kindForStatus(resp.StatusCode), "tiktok token endpoint returned "+tokenResp.Error)
	}

	return &Credentials{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

func (a *TiktokAdapter) classifyAPIError(code, message string) *PlatformError {
	switch code {
	case "rate_limit_exceeded":
		return NewError(KindRateLimited, message)
	case "access_token_invalid", "scope_not_authorized":
		return NewError(KindAuthRequired, message)
	case "invalid_params", "video_format_check_failed", "picture_size_check_failed", "spam_risk_too_many_posts":
		return NewError(KindContentRejected, message)
	default:
		return NewError(KindTransient, fmt.Sprintf("%s: %s", code, message))
	}
}
