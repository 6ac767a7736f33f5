package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"datacat/pkg/model"
	"datacat/pkg/scan"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// HeadAPI 是扫描用到的 S3 子集，测试里可以替换
type HeadAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Scanner 扫描 s3://bucket/key 形式的资源
type Scanner struct {
	client HeadAPI
	bucket string // 资源没有写 bucket 时使用
}

// Config 用于初始化 Scanner
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_key"`
}

// NewScanner 初始化 S3 客户端 (aws-sdk-go-v2)
func NewScanner(ctx context.Context, cfg Config) (*Scanner, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	// 没有配置静态密钥时走默认凭证链 (环境变量、profile、IMDS)
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO 之类的自建服务
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket), nil
}

func NewWithClient(client HeadAPI, bucket string) *Scanner {
	return &Scanner{client: client, bucket: bucket}
}

// transformKey s3://bucket/a/b -> (bucket, "a/b")
func (s *Scanner) transformKey(resource string) (string, string, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return "", "", fmt.Errorf("bad s3 resource %q: %w", resource, err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bad s3 resource %q: need bucket and key", resource)
	}
	return bucket, key, nil
}

func (s *Scanner) Scan(ctx context.Context, resource string) (scan.Result, error) {
	bucket, key, err := s.transformKey(resource)
	if err != nil {
		return scan.Result{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return scan.Result{Status: scan.StatusMissing}, nil
		}
		return scan.Result{}, fmt.Errorf("s3 head failed: %w", err)
	}

	res := scan.Result{Status: scan.StatusOK}
	if out.ContentLength != nil {
		res.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		m := out.LastModified.UTC()
		res.Modified = &m
	}
	res.Checksum = etagChecksum(aws.ToString(out.ETag))
	return res, nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现只返回 404 文本
	return strings.Contains(err.Error(), "404")
}

// etagChecksum 单段上传的 ETag 是内容 MD5，取低 64 位作为校验和。
// 分段上传的 ETag 带 "-N" 后缀，不是内容摘要，不记录。
func etagChecksum(etag string) *int64 {
	etag = strings.Trim(etag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		return nil
	}
	sum, err := model.ParseChecksum(etag)
	if err != nil {
		return nil
	}
	return &sum
}
