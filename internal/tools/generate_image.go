package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/database/minio"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// GenerateImage renders an image through an OpenAI-compatible endpoint and
// parks the bytes in MinIO. The result is terminal: the object URL plus the
// model's comment already answer the user, no further model call needed.
type GenerateImage struct {
	cfg    config.ImageConfig
	client *openai.Client
	minio  *minio.MinIOClient
}

// NewGenerateImage creates the generate_image tool.
func NewGenerateImage(cfg config.ImageConfig, minioClient *minio.MinIOClient) *GenerateImage {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &GenerateImage{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		minio:  minioClient,
	}
}

func (t *GenerateImage) Manifest() mcp.Tool {
	return mcp.NewTool(
		"generate_image",
		mcp.WithDescription("Generate an image from a text prompt and share it with the user."),
		mcp.WithString("prompt",
			mcp.Description("Detailed description of the image to generate"),
			mcp.Required(),
		),
		mcp.WithString("comment",
			mcp.Description("Short message to send along with the image"),
		),
	)
}

func (t *GenerateImage) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	prompt, _ := args["prompt"].(string)
	comment, _ := args["comment"].(string)

	resp, err := t.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          t.cfg.Model,
		Size:           t.cfg.Size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image endpoint returned no data")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}

	objectName := fmt.Sprintf("images/%s/%s.png", time.Now().Format("2006-01-02"), uuid.New().String())
	artifactURL, err := t.minio.PutArtifact(ctx, objectName, raw, "image/png")
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	if comment == "" {
		comment = "Here you go."
	}
	return &Result{
		Content:      fmt.Sprintf("%s\n%s", comment, artifactURL),
		Terminal:     true,
		ArtifactURLs: []string{artifactURL},
	}, nil
}
