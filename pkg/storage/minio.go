package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

// MinIOStore 使用 MinIO 保存原始文件。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %v: %w", err, errs.ErrBackendUnavailable)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 客户端初始化成功, bucket: %s", cfg.BucketName)
	return &MinIOStore{client: client, bucket: cfg.BucketName}, nil
}

func (s *MinIOStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %v: %w", objectName, err, errs.ErrBackendUnavailable)
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("下载对象 %s 失败: %v: %w", objectName, err, errs.ErrBackendUnavailable)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(object); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", objectName, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	return buf.Bytes(), nil
}

func (s *MinIOStore) Delete(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectName, err)
	}
	return nil
}
