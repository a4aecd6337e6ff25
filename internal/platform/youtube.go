package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// MediaDownloader serves media bytes for upload-style platforms. Implemented
// by the media service over R2.
type MediaDownloader interface {
	Download(ctx context.Context, asset *models.MediaAsset) (io.ReadCloser, error)
}

type YoutubeAdapter struct {
	cfg   config.Config
	media MediaDownloader
}

func NewYoutubeAdapter(cfg config.Config, media MediaDownloader) *YoutubeAdapter {
	return &YoutubeAdapter{cfg: cfg, media: media}
}

func (a *YoutubeAdapter) Name() string {
	return "youtube"
}

func (a *YoutubeAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.GoogleClientID,
		ClientSecret: a.cfg.GoogleClientSecret,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

func (a *YoutubeAdapter) service(ctx context.Context, account *models.ConnectedAccount) (*youtube.Service, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored access token unreadable", err)
	}

	token := &oauth2.Token{AccessToken: accessToken}
	svc, err := youtube.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, "failed to build youtube client", err)
	}
	return svc, nil
}

func (a *YoutubeAdapter) Publish(ctx context.Context, account *models.ConnectedAccount, req *PublishRequest) (string, error) {
	if len(req.Media) == 0 {
		return "", NewError(KindContentRejected, "youtube publish requires a video")
	}

	svc, err := a.service(ctx, account)
	if err != nil {
		return "", err
	}

	body, err := a.media.Download(ctx, req.Media[0])
	if err != nil {
		return "", err
	}
	defer body.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Post.Title,
			Description: req.Post.Caption,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "public"},
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	uploaded, err := call.Media(body).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}

	return uploaded.Id, nil
}

func (a *YoutubeAdapter) FetchMetrics(ctx context.Context, account *models.ConnectedAccount, platformPostID string) (*MetricSet, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List([]string{"statistics"}).Id(platformPostID).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	if len(resp.Items) == 0 {
		return nil, NewError(KindNotFound, "video no longer exists on youtube")
	}

	stats := resp.Items[0].Statistics
	if stats == nil {
		return nil, NewError(KindTransient, "youtube returned no statistics")
	}

	return &MetricSet{
		Likes:       int64(stats.LikeCount),
		Comments:    int64(stats.CommentCount),
		Shares:      int64(stats.FavoriteCount),
		Impressions: int64(stats.ViewCount),
		Reach:       int64(stats.ViewCount),
	}, nil
}

func (a *YoutubeAdapter) RefreshToken(ctx context.Context, account *models.ConnectedAccount) (*Credentials, error) {
	refreshToken, err := utils.Decrypt(account.RefreshToken, []byte(a.cfg.SecretKey))
	if err != nil {
		return nil, WrapError(KindAuthRequired, "stored refresh token unreadable", err)
	}

	source := a.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if strings.Contains(string(retrieveErr.Body), "invalid_grant") {
				return nil, NewError(KindAuthRequired, "google rejected refresh token")
			}
			return nil, NewError(kindForStatus(retrieveErr.Response.StatusCode), "google token endpoint error")
		}
		return nil, WrapError(KindTransient, "google token request failed", err)
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = refreshToken
	}

	return &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    token.Expiry,
	}, nil
}

func classifyGoogleError(err error) *PlatformError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
				return NewError(KindRateLimited, apiErr.Message)
			case "invalidVideoMetadata", "invalidFilename", "mediaBodyRequired", "uploadLimitExceeded":
				return NewError(KindContentRejected, apiErr.Message)
			case "authError", "forbidden":
				return NewError(KindAuthRequired, apiErr.Message)
			case "videoNotFound", "notFound":
				return NewError(KindNotFound, apiErr.Message)
			}
		}
		return NewError(kindForStatus(apiErr.Code), fmt.Sprintf("youtube api error %d: %s", apiErr.Code, apiErr.Message))
	}
	return WrapError(KindTransient, "youtube call failed", err)
}
