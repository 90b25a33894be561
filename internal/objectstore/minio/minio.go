// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package minio implements objectstore.Store against any S3-compatible
// endpoint.
package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quarry-dev/quarry/internal/objectstore"
	"github.com/quarry-dev/quarry/pkg/errors"
)

// Config holds the connection settings for the S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Store talks to an S3-compatible object store via minio-go.
type Store struct {
	client *minio.Client
}

var _ objectstore.Store = (*Store)(nil)

// New builds a Store from cfg. The endpoint is host:port without a
// scheme; UseSSL selects https.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.CodeObjectUpstreamFailure, "object store endpoint is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeObjectUpstreamFailure, "create object store client")
	}
	return &Store{client: client}, nil
}

func (s *Store) Stat(ctx context.Context, bucket, path string) (objectstore.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return objectstore.ObjectInfo{}, classify(err, bucket, path)
	}
	return objectstore.ObjectInfo{
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (s *Store) Fetch(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err, bucket, path)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(err, bucket, path)
	}
	return data, nil
}

// classify maps minio error responses onto our error codes. Missing
// objects and missing buckets both surface as not found.
func classify(err error, bucket, path string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return errors.Wrap(err, errors.CodeObjectNotFound, "object not found",
			errors.Field("bucket", bucket), errors.Field("path", path))
	}
	return errors.Wrap(err, errors.CodeObjectUpstreamFailure, "object store request failed",
		errors.Field("bucket", bucket), errors.Field("path", path))
}
