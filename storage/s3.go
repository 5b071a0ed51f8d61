package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"citenet/config"
	"citenet/records"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the part of the S3 client the record sources need.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client creates a client for an S3-compatible endpoint.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true }), nil
}

// S3Source is a record file stored as one object. Each Open issues a fresh GET,
// so multi-pass readers stream the object again instead of buffering it.
type S3Source struct {
	Client ObjectAPI
	Bucket string
	Key    string
}

func (s S3Source) Name() string { return s.Key }

func (s S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	return records.MaybeGunzip(s.Key, out.Body)
}

// S3Inbox lists record files below a bucket prefix.
type S3Inbox struct {
	Client ObjectAPI
	Bucket string
	Prefix string
}

// List returns one S3Source per record object, sorted by key.
func (b S3Inbox) List(ctx context.Context) ([]records.Source, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(b.Prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", b.Bucket, b.Prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && records.IsRecordFile(*obj.Key) {
				keys = append(keys, *obj.Key)
			}
		}
	}
	sort.Strings(keys)

	out := make([]records.Source, 0, len(keys))
	for _, k := range keys {
		out = append(out, S3Source{Client: b.Client, Bucket: b.Bucket, Key: k})
	}
	return out, nil
}
