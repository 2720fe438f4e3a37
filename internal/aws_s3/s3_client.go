package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	netUrl "net/url"
	"os"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/urlutil"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type BucketClient interface {
	WriteSnapshot(*model.PageSnapshot) (string, error)
	ReadObject(key string) ([]byte, error)
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3BucketClient(cfg *config.Config) *S3BucketClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3BucketClient{
		client: c,
		cfg:    cfg,
	}
}

// WriteSnapshot stores the processed page record under
// <prefix>/<host>/<url-hash>/snapshot.json and returns the key.
func (bc *S3BucketClient) WriteSnapshot(snapshot *model.PageSnapshot) (string, error) {
	u, err := netUrl.Parse(snapshot.URL)
	if err != nil {
		slog.Error("failed to parse url.", slog.String("url", snapshot.URL), slog.String("err", err.Error()))
		return "", err
	}
	s3Key := fmt.Sprintf("%s/%s/%s/%s", bc.cfg.S3Settings.KeyPrefix, u.Host, urlutil.HashURL(snapshot.URL),
		"snapshot.json")
	body, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("marshaling failed.", slog.String("err", err.Error()))
		return "", err
	}

	_, err = bc.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &bc.cfg.S3Settings.BucketName,
		Key:    &s3Key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		slog.Error("failed to save snapshot to s3.", slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("snapshot saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

// ReadObject fetches a raw object from the bucket. Used for the scoring
// rubric document.
func (bc *S3BucketClient) ReadObject(key string) ([]byte, error) {
	out, err := bc.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &bc.cfg.S3Settings.BucketName,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", key, err)
	}
	return body, nil
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack does not support `virtual host addressing style` that uses s3 by default.
		// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
		// Set 'local' Env variable to use this configuration.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
