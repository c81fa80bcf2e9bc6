package blend

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/chaos-io/placement/inpaint"
	"github.com/chaos-io/placement/util"
)

var ErrBackgroundTooSmall = errors.New("background too small to place product")

// Blender 把去背景后的产品融合进场景图
type Blender struct {
	inpainter inpaint.Inpainter
	prompt    string
	maskMode  MaskMode
}

func NewBlender(inpainter inpaint.Inpainter, prompt string, maskMode MaskMode) *Blender {
	return &Blender{
		inpainter: inpainter,
		prompt:    prompt,
		maskMode:  maskMode,
	}
}

// Blend 缩放产品、由 alpha 生成蒙版、调用 inpainting 模型，结果保存到 outputPath
func (b *Blender) Blend(ctx context.Context, productPath, backgroundPath, outputPath string) error {
	productImg, err := util.OpenImage(productPath)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	backgroundImg, err := util.OpenImage(backgroundPath)
	if err != nil {
		return fmt.Errorf("load background: %w", err)
	}

	product := toNRGBA(productImg)
	background := toNRGBA(backgroundImg)

	placement, err := ComputePlacement(background.Bounds())
	if err != nil {
		return err
	}

	resized := resizeProduct(product, placement.Size)
	if !hasUsefulAlpha(resized) {
		logrus.WithField("product", productPath).Warn("product has no transparency, the whole placement area will be repainted")
	}

	// 抠图没找到主体时蒙版全黑，仍然调用模型并保存结果
	mask := BuildMask(AlphaMask(resized), background.Bounds(), placement, b.maskMode)
	if _, ok := maskBBox(mask); !ok {
		logrus.WithField("product", productPath).Warn("product mask has no foreground, the background will be kept as is")
	}

	result, err := b.inpainter.Inpaint(ctx, inpaint.Request{
		Prompt: b.prompt,
		Image:  background,
		Mask:   mask,
	})
	if err != nil {
		return fmt.Errorf("inpaint: %w", err)
	}

	result = fitTo(result, background.Bounds())
	if err := util.SaveImage(result, outputPath); err != nil {
		return err
	}

	logrus.WithField("output", outputPath).Info("saved")
	return nil
}

// fitTo 保证输出和背景尺寸一致
func fitTo(img image.Image, bounds image.Rectangle) image.Image {
	if img.Bounds().Dx() == bounds.Dx() && img.Bounds().Dy() == bounds.Dy() {
		return img
	}
	return imaging.Resize(img, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
}
