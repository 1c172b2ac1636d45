package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// minPartSize — минимальный размер части multipart upload в S3.
const minPartSize = 5 * 1024 * 1024

// S3Config — параметры подключения к S3/MinIO.
type S3Config struct {
	// Endpoint — адрес MinIO ("minio:9000"). Пусто — AWS S3.
	Endpoint string

	// Region — регион (по умолчанию us-east-1).
	Region string

	AccessKeyID     string
	SecretAccessKey string

	// UseSSL включает HTTPS для Endpoint.
	UseSSL bool
}

// S3Objects — ObjectStore поверх AWS SDK v2.
type S3Objects struct {
	client *s3.Client
}

// NewS3Objects создаёт клиента S3.
func NewS3Objects(ctx context.Context, cfg S3Config) (*S3Objects, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Objects{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Put реализует ObjectStore.
func (s *S3Objects) Put(ctx context.Context, bucket, key string, body []byte, opts PutOptions) (ObjectInfo, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     optional(opts.ContentType),
		ContentEncoding: optional(opts.ContentEncoding),
		Metadata:        opts.Metadata,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return ObjectInfo{
		Bucket:    bucket,
		Key:       key,
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
		Size:      int64(len(body)),
	}, nil
}

// PutMultipart реализует ObjectStore. При ошибке незавершённая загрузка отменяется.
func (s *S3Objects) PutMultipart(ctx context.Context, bucket, key string, body []byte, partSize int64, opts PutOptions) (ObjectInfo, error) {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		ContentType:     optional(opts.ContentType),
		ContentEncoding: optional(opts.ContentEncoding),
		Metadata:        opts.Metadata,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (ObjectInfo, error) {
		_, _ = s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		return ObjectInfo{}, cause
	}

	var parts []types.CompletedPart
	for offset, num := int64(0), int32(1); offset < int64(len(body)); offset, num = offset+partSize, num+1 {
		end := offset + partSize
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		chunk := body[offset:end]
		up, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(num),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(int64(len(chunk))),
		})
		if err != nil {
			return abort(fmt.Errorf("upload part %d: %w", num, err))
		}
		parts = append(parts, types.CompletedPart{ETag: up.ETag, PartNumber: aws.Int32(num)})
	}

	done, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("complete multipart upload: %w", err))
	}

	return ObjectInfo{
		Bucket:    bucket,
		Key:       key,
		ETag:      aws.ToString(done.ETag),
		VersionID: aws.ToString(done.VersionId),
		Size:      int64(len(body)),
		Parts:     len(parts),
	}, nil
}

// ListVersions реализует ObjectStore.
func (s *S3Objects) ListVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error) {
	var out []ObjectVersion
	paginator := s3.NewListObjectVersionsPaginator(s.client, &s3.ListObjectVersionsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list object versions: %w", err)
		}
		for _, v := range page.Versions {
			out = append(out, ObjectVersion{
				Key:          aws.ToString(v.Key),
				VersionID:    aws.ToString(v.VersionId),
				LastModified: aws.ToTime(v.LastModified),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

// DeleteVersion реализует ObjectStore.
func (s *S3Objects) DeleteVersion(ctx context.Context, bucket, key, versionID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(bucket),
		Key:       aws.String(key),
		VersionId: optional(versionID),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s@%s: %w", bucket, key, versionID, err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
