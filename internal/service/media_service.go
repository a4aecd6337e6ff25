package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	cfg "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/repository"
)

// ErrUnsupportedMedia marks a permanent content failure: the stored bytes do
// not match a type the target platform accepts. Callers must not retry.
var ErrUnsupportedMedia = errors.New("unsupported media type")

type MediaService interface {
	ResolveForPost(ctx context.Context, postID int64) ([]*models.MediaAsset, error)
	Validate(ctx context.Context, asset *models.MediaAsset) error
	Download(ctx context.Context, asset *models.MediaAsset) (io.ReadCloser, error)
}

type mediaService struct {
	config cfg.Config
	pm     repository.PostMediaRepository
	ma     repository.MediaAssetRepository
}

func NewMediaService(config cfg.Config, pm repository.PostMediaRepository, ma repository.MediaAssetRepository) MediaService {
	return &mediaService{config: config, pm: pm, ma: ma}
}

func (s *mediaService) r2Client() (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.config.R2.AccessKey, s.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.config.R2.AccountID))
	}), nil
}

// ResolveForPost returns the post's assets in display order.
func (s *mediaService) ResolveForPost(ctx context.Context, postID int64) ([]*models.MediaAsset, error) {
	postMedia, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	var assets []*models.MediaAsset
	for _, pm := range postMedia {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, fmt.Errorf("media asset %d referenced by post %d does not exist", pm.AssetID, postID)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// Validate sniffs the stored object's magic bytes and checks they agree with
// the declared file type. A mismatch is ErrUnsupportedMedia.
func (s *mediaService) Validate(ctx context.Context, asset *models.MediaAsset) error {
	client, err := s.r2Client()
	if err != nil {
		return err
	}

	// filetype needs at most the first 262 bytes.
	output, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.R2.BucketName),
		Key:    aws.String(asset.FileName),
		Range:  aws.String("bytes=0-261"),
	})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer output.Body.Close()

	head, err := io.ReadAll(output.Body)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	kind, err := filetype.Match(head)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if kind == filetype.Unknown {
		return fmt.Errorf("%w: unrecognized content in %s", ErrUnsupportedMedia, asset.FileName)
	}

	switch asset.FileType {
	case "video":
		if !filetype.IsVideo(head) {
			return fmt.Errorf("%w: %s declared video, found %s", ErrUnsupportedMedia, asset.FileName, kind.MIME.Value)
		}
	case "image":
		if !filetype.IsImage(head) {
			return fmt.Errorf("%w: %s declared image, found %s", ErrUnsupportedMedia, asset.FileName, kind.MIME.Value)
		}
	}
	return nil
}

func (s *mediaService) Download(ctx context.Context, asset *models.MediaAsset) (io.ReadCloser, error) {
	client, err := s.r2Client()
	if err != nil {
		return nil, err
	}

	output, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.R2.BucketName),
		Key:    aws.String(asset.FileName),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return output.Body, nil
}
