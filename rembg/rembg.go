package rembg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chaos-io/placement/config"
	nhttp "github.com/chaos-io/placement/util/http"
)

var ErrUnknownBackend = errors.New("unknown background removal backend")

// Remover 去除图片背景，输入输出均为编码后的图片数据，输出为带 alpha 的 PNG
type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// DefaultRemBG 直接返回原图，用于已经抠好图的产品
type DefaultRemBG struct{}

func NewDefaultRemBG() *DefaultRemBG {
	return &DefaultRemBG{}
}

func (d *DefaultRemBG) Remove(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

// New 按配置创建 Remover
func New(cfg config.RembgConfig) (Remover, error) {
	cli := nhttp.NewHTTPClientWithTimeout(cfg.Timeout)

	switch cfg.Backend {
	case "rembg":
		return NewServerRemBG(cfg.URL, cfg.Model, cli), nil
	case "birefnet":
		workflow := ""
		if cfg.Workflow != "" {
			data, err := os.ReadFile(cfg.Workflow)
			if err != nil {
				return nil, fmt.Errorf("read workflow: %w", err)
			}
			workflow = string(data)
		}
		return NewBiRefNetRemBG(cfg.URL, workflow, cfg.PollInterval, cli), nil
	case "none":
		return NewDefaultRemBG(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// RemoveFile 读取 inputPath，去背景后写入 outputPath；错误直接返回给调用方
func RemoveFile(ctx context.Context, r Remover, inputPath, outputPath string) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	output, err := r.Remove(ctx, input)
	if err != nil {
		return fmt.Errorf("remove background: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(outputPath, output, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
