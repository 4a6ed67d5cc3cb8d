package backupstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/pkg/errors"
)

const defaultRegion = "us-east-1"

// S3 stores objects in an S3 compatible bucket
type S3 struct {
	url    string
	bucket string
	prefix string
	client *s3.Client
}

// s3Target is the parsed form of s3://bucket@region/prefix
type s3Target struct {
	Bucket string
	Region string
	Prefix string
}

func parseS3URL(u *url.URL) (s3Target, error) {
	target := s3Target{
		Region: u.Hostname(),
		Prefix: strings.Trim(u.Path, "/"),
	}
	if u.User != nil {
		target.Bucket = u.User.Username()
	}
	if target.Bucket == "" {
		return target, errdefs.NewInvalidArgumentError("s3 target %q has no bucket, expected s3://bucket@region/prefix", u.String())
	}
	if target.Region == "" {
		target.Region = defaultRegion
	}
	return target, nil
}

func newS3(ctx context.Context, u *url.URL, opts Options) (Driver, error) {
	target, err := parseS3URL(u)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(target.Region),
	}
	if opts.S3.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.S3.AccessKey, opts.S3.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3.Endpoint)
		}
		o.UsePathStyle = opts.S3.PathStyle
	})

	return &S3{
		url:    u.String(),
		bucket: target.Bucket,
		prefix: target.Prefix,
		client: client,
	}, nil
}

func (s *S3) Kind() string { return "s3" }

func (s *S3) URL() string { return s.url }

func (s *S3) key(key string) string {
	return path.Join(s.prefix, key)
}

// Put stages the stream in a temporary file first; PutObject needs a
// seekable body of known length to sign the request
func (s *S3) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp("", "burrow-s3-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		return n, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return n, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          tmp,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return n, s.translateError(err, key)
	}
	return n, nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, s.translateError(err, key)
	}
	return out.Body, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if full != "" {
		full += "/"
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(full),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.translateError(err, prefix)
		}
		for _, p := range page.CommonPrefixes {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), full), "/"))
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), full))
		}
	}
	return names, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if err = s.translateError(err, key); errors.Is(err, errdefs.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		err = s.translateError(err, key)
		if errors.Is(err, errdefs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3) translateError(err error, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	var noSuchBucket *s3types.NoSuchBucket
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return errdefs.NewNotFoundError("object %s not found in %s", key, s.url)
	case errors.As(err, &noSuchBucket):
		return errdefs.NewInvalidArgumentError("bucket %s does not exist", s.bucket)
	default:
		return errors.Wrapf(err, "s3 request for %s failed", key)
	}
}
