package inpaint

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	nhttp "github.com/chaos-io/placement/util/http"
)

const (
	img2imgPath = "/sdapi/v1/img2img"

	// inpainting_fill: 1 = original，以原图内容为起点重绘
	fillOriginal = 1
)

type img2imgReq struct {
	InitImages        []string       `json:"init_images"`
	Mask              string         `json:"mask"`
	Prompt            string         `json:"prompt"`
	NegativePrompt    string         `json:"negative_prompt,omitempty"`
	Steps             int            `json:"steps"`
	CFGScale          float64        `json:"cfg_scale"`
	DenoisingStrength float64        `json:"denoising_strength"`
	Seed              int64          `json:"seed"`
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	InpaintingFill    int            `json:"inpainting_fill"`
	InpaintFullRes    bool           `json:"inpaint_full_res"`
	OverrideSettings  map[string]any `json:"override_settings"`
}

type img2imgResp struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

func (p *Pipeline) Inpaint(ctx context.Context, req Request) (image.Image, error) {
	if req.Image == nil || req.Mask == nil {
		return nil, errors.New("image and mask are required")
	}

	initImage, err := encodePNG(req.Image)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	mask, err := encodePNG(req.Mask)
	if err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}

	bounds := req.Image.Bounds()
	resp := &img2imgResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: p.baseURL + img2imgPath,
		Method:     "POST",
		Body: img2imgReq{
			InitImages:        []string{initImage},
			Mask:              mask,
			Prompt:            req.Prompt,
			NegativePrompt:    p.cfg.NegativePrompt,
			Steps:             p.cfg.Steps,
			CFGScale:          p.cfg.CFGScale,
			DenoisingStrength: p.cfg.DenoisingStrength,
			Seed:              p.cfg.Seed,
			Width:             multipleOf8(bounds.Dx()),
			Height:            multipleOf8(bounds.Dy()),
			InpaintingFill:    fillOriginal,
			OverrideSettings:  map[string]any{"sd_model_checkpoint": p.modelTitle},
		},
		Response: resp,
	}
	if err := p.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("img2img: %w", err)
	}
	if len(resp.Images) == 0 {
		return nil, errors.New("img2img returned no images")
	}

	return decodeBase64Image(resp.Images[0])
}

// multipleOf8 模型要求宽高为 8 的倍数
func multipleOf8(v int) int {
	if v < 8 {
		return 8
	}
	return v - v%8
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeBase64Image(s string) (image.Image, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
