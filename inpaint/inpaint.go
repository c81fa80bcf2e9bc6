package inpaint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/chaos-io/placement/config"
	nhttp "github.com/chaos-io/placement/util/http"
)

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

var (
	ErrModelNotFound   = errors.New("inpainting model not found")
	ErrCUDAUnavailable = errors.New("cuda requested but the inpainting server has no usable gpu")
)

// Request 一次 inpainting 调用：在 Mask 非零区域按 Prompt 重绘 Image
type Request struct {
	Prompt string
	Image  image.Image
	Mask   image.Image
}

type Inpainter interface {
	Inpaint(ctx context.Context, req Request) (image.Image, error)
}

// Pipeline 绑定了模型和计算设备的 inpainting 服务
type Pipeline struct {
	baseURL    string
	modelTitle string
	device     Device
	cfg        config.InpaintConfig
	cli        nhttp.IClient
}

// LoadPipeline 确认模型已部署并探测服务端的计算设备（有 GPU 用 GPU，否则 CPU），失败视为致命错误。
// 模型运行在哪个设备上由推理服务决定；device 为 cuda 时服务端没有 GPU 直接报错
func LoadPipeline(ctx context.Context, cfg config.InpaintConfig) (*Pipeline, error) {
	return loadPipeline(ctx, cfg, nhttp.NewHTTPClientWithTimeout(cfg.Timeout))
}

func loadPipeline(ctx context.Context, cfg config.InpaintConfig, cli nhttp.IClient) (*Pipeline, error) {
	baseURL := strings.TrimRight(cfg.URL, "/")

	title, err := findModel(ctx, cli, baseURL, cfg.Model)
	if err != nil {
		return nil, err
	}

	cudaAvailable, err := probeCUDA(ctx, cli, baseURL)
	if err != nil {
		logrus.WithError(err).Warn("failed to probe inpainting device, assuming cpu")
	}
	device, err := resolveDevice(Device(cfg.Device), cudaAvailable)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"model":  title,
		"device": device,
	}).Info("inpainting pipeline loaded")

	return &Pipeline{
		baseURL:    baseURL,
		modelTitle: title,
		device:     device,
		cfg:        cfg,
		cli:        cli,
	}, nil
}

func (p *Pipeline) Device() Device {
	return p.device
}

func (p *Pipeline) Model() string {
	return p.modelTitle
}

// resolveDevice 返回服务端实际使用的设备；要求 cuda 而服务端没有 GPU 时返回 ErrCUDAUnavailable
func resolveDevice(requested Device, cudaAvailable bool) (Device, error) {
	if cudaAvailable {
		return DeviceCUDA, nil
	}
	if requested == DeviceCUDA {
		return "", ErrCUDAUnavailable
	}
	return DeviceCPU, nil
}

type sdModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Hash      string `json:"hash"`
	Filename  string `json:"filename"`
}

// findModel 返回服务端的模型 title，用于 override_settings
func findModel(ctx context.Context, cli nhttp.IClient, baseURL, model string) (string, error) {
	var models []sdModel
	reqParam := &nhttp.RequestParam{
		RequestURI: baseURL + "/sdapi/v1/sd-models",
		Method:     "GET",
		Response:   &models,
	}
	if err := cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}

	for _, m := range models {
		if m.ModelName == model || m.Title == model || strings.HasPrefix(m.Title, model) {
			return m.Title, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

type memoryResp struct {
	Cuda struct {
		System *struct {
			Total float64 `json:"total"`
		} `json:"system"`
		Error string `json:"error"`
	} `json:"cuda"`
}

func probeCUDA(ctx context.Context, cli nhttp.IClient, baseURL string) (bool, error) {
	var mem memoryResp
	reqParam := &nhttp.RequestParam{
		RequestURI: baseURL + "/sdapi/v1/memory",
		Method:     "GET",
		Response:   &mem,
	}
	if err := cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return false, fmt.Errorf("get memory: %w", err)
	}
	return mem.Cuda.Error == "" && mem.Cuda.System != nil && mem.Cuda.System.Total > 0, nil
}
