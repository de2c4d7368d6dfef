/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Loader is the reference Loader adapter: a partition snapshot is packaged
// as a single tar+gzip object at <prefix>/<key>.tar.gz.
type S3Loader struct {
	Bucket         string
	Region         string
	Endpoint       string // non-empty for S3-compatible stores (MinIO, etc.)
	Prefix         string
	AccessKeyID    string
	SecretAccessKey string
	ForcePathStyle bool

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func NewS3Loader(cfg Config) *S3Loader {
	return &S3Loader{
		Bucket: cfg.BaseIndexS3Bucket,
		Region: cfg.BaseIndexS3Region,
		Prefix: cfg.BaseIndexS3Prefix,
	}
}

func (l *S3Loader) ensureOpen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if l.Region != "" {
		opts = append(opts, config.WithRegion(l.Region))
	}
	if l.AccessKeyID != "" && l.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(l.AccessKeyID, l.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("ikv: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if l.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(l.Endpoint) })
	}
	if l.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	l.client = s3.NewFromConfig(awsCfg, s3Opts...)
	l.opened = true
	return nil
}

func (l *S3Loader) objectKey(key string) string {
	if l.Prefix == "" {
		return key + ".tar.gz"
	}
	return l.Prefix + "/" + key + ".tar.gz"
}

// Download fetches and unpacks the snapshot named by key into dir.
func (l *S3Loader) Download(ctx context.Context, key string, dir string) error {
	if err := l.ensureOpen(ctx); err != nil {
		return err
	}
	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("ikv: downloading %s: %w", key, err)
	}
	defer resp.Body.Close()
	return unpackageDir(resp.Body, dir)
}

// Upload packages dir and stores it under key.
func (l *S3Loader) Upload(ctx context.Context, key string, dir string) error {
	if err := l.ensureOpen(ctx); err != nil {
		return err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(packageDir(dir, pw))
	}()
	_, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.objectKey(key)),
		Body:   pr,
	})
	if err != nil {
		return fmt.Errorf("ikv: uploading %s: %w", key, err)
	}
	return nil
}
