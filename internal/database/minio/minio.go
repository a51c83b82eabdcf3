package minio

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/madcadaver/dbot/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	instance *MinIOClient
	once     sync.Once
	initErr  error
)

// MinIOClient 包含了 MinIO 客户端实例和相关配置。
type MinIOClient struct {
	Client *minio.Client       // MinIO 客户端实例。
	Config *config.MinIOConfig // MinIO 配置。
}

// GetClient 使用单例模式初始化并返回一个 MinIO 客户端实例。
// 它确保到 MinIO 的连接在整个应用生命周期中只被建立一次。
func GetClient(cfg *config.MinIOConfig) (*MinIOClient, error) {
	once.Do(func() {
		// 使用配置中的端点、访问密钥和 Secret 密钥创建 MinIO 客户端。
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""), // 静态凭证。
			Secure: cfg.Secure,                                                // 是否使用 HTTPS。
		})
		if err != nil {
			initErr = fmt.Errorf("无法创建 MinIO 客户端: %w", err)
			return
		}

		// 初始化时执行简单的健康检查
		_, err = c.ListBuckets(context.Background())
		if err != nil {
			initErr = fmt.Errorf("MinIO 初始化健康检查失败: %w", err)
			return
		}

		log.Println("✅ 成功连接到 MinIO!")
		instance = &MinIOClient{Client: c, Config: cfg}
	})

	return instance, initErr
}

// HealthCheck 检查 MinIO 连接的健康状况。
func (c *MinIOClient) HealthCheck(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	// 尝试列出存储桶以验证连接性和认证。
	_, err := c.Client.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	return nil
}

// EnsureBucket 确保配置的存储桶存在，不存在时创建。
func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.Client.BucketExists(ctx, c.Config.Bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 '%s' 失败: %w", c.Config.Bucket, err)
	}
	if !exists {
		if err := c.Client.MakeBucket(ctx, c.Config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建存储桶 '%s' 失败: %w", c.Config.Bucket, err)
		}
		log.Printf("✅ 成功创建存储桶: %s", c.Config.Bucket)
	}
	return nil
}

// PutArtifact 将一段二进制产物写入默认存储桶并返回可访问的对象路径。
func (c *MinIOClient) PutArtifact(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	_, err := c.Client.PutObject(ctx, c.Config.Bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("写入对象 '%s' 失败: %w", objectName, err)
	}

	scheme := "http"
	if c.Config.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.Config.Endpoint, c.Config.Bucket, objectName), nil
}
