package blend

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

type MaskMode string

const (
	// MaskCentered 把产品 alpha 放在背景中心的偏移位置
	MaskCentered MaskMode = "centered"
	// MaskStretched 把产品 alpha 拉伸到整张背景，默认模式
	MaskStretched MaskMode = "stretched"
)

// Placement 产品缩放后的尺寸及其在背景上居中的偏移
type Placement struct {
	Size   image.Point
	Offset image.Point
}

func (p Placement) Rect() image.Rectangle {
	return image.Rectangle{Min: p.Offset, Max: p.Offset.Add(p.Size)}
}

// ComputePlacement 产品缩放为背景宽高的 1/3 并居中
func ComputePlacement(background image.Rectangle) (Placement, error) {
	w, h := background.Dx()/3, background.Dy()/3
	if w == 0 || h == 0 {
		return Placement{}, ErrBackgroundTooSmall
	}
	return Placement{
		Size:   image.Pt(w, h),
		Offset: image.Pt((background.Dx()-w)/2, (background.Dy()-h)/2),
	}, nil
}

// resizeProduct 不保持宽高比，直接缩放到目标尺寸（Lanczos3 抗锯齿）
func resizeProduct(img image.Image, size image.Point) *image.NRGBA {
	resized := resize.Resize(uint(size.X), uint(size.Y), img, resize.Lanczos3)
	return toNRGBA(resized)
}

// AlphaMask 取 alpha 通道作为灰度蒙版，255 表示需要重绘
func AlphaMask(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := y * img.Stride
		for x := 0; x < b.Dx(); x++ {
			mask.Pix[y*mask.Stride+x] = img.Pix[row+x*4+3]
		}
	}
	return mask
}

// BuildMask 生成和背景同尺寸的蒙版，默认把产品 alpha 拉伸到整张背景
func BuildMask(productMask *image.Gray, background image.Rectangle, placement Placement, mode MaskMode) *image.Gray {
	canvas := image.NewGray(image.Rect(0, 0, background.Dx(), background.Dy()))
	switch mode {
	case MaskCentered:
		draw.Copy(canvas, placement.Offset, productMask, productMask.Bounds(), draw.Src, nil)
	default:
		draw.CatmullRom.Scale(canvas, canvas.Bounds(), productMask, productMask.Bounds(), draw.Src, nil)
	}
	return canvas
}

// maskBBox 从蒙版计算主体 bounding box，全黑返回 false
func maskBBox(mask *image.Gray) (image.Rectangle, bool) {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * mask.Stride
		for x := 0; x < w; x++ {
			if mask.Pix[row+x] == 0 {
				continue
			}
			found = true
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// hasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
