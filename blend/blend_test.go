package blend

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/placement/inpaint"
	"github.com/chaos-io/placement/util"
)

type fakeInpainter struct {
	calls  int
	req    inpaint.Request
	result image.Image
	err    error
}

func (f *fakeInpainter) Inpaint(_ context.Context, req inpaint.Request) (image.Image, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return imaging.Clone(req.Image), nil
}

// writeProduct 透明画布中间一块不透明区域
func writeProduct(t *testing.T, dir string, opaque image.Rectangle) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 90, 60))
	for y := opaque.Min.Y; y < opaque.Max.Y; y++ {
		for x := opaque.Min.X; x < opaque.Max.X; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	path := filepath.Join(dir, "clean_shoe.png")
	require.NoError(t, util.SaveImage(img, path))
	return path
}

func writeBackground(t *testing.T, dir string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, "living_room.jpg")
	require.NoError(t, util.SaveImage(imaging.New(w, h, color.NRGBA{R: 120, G: 110, B: 90, A: 255}), path))
	return path
}

func TestComputePlacement(t *testing.T) {
	tests := []struct {
		name       string
		background image.Rectangle
		wantSize   image.Point
		wantOffset image.Point
		wantErr    error
	}{
		{name: "divisible", background: image.Rect(0, 0, 300, 240), wantSize: image.Pt(100, 80), wantOffset: image.Pt(100, 80)},
		{name: "rounding", background: image.Rect(0, 0, 1000, 500), wantSize: image.Pt(333, 166), wantOffset: image.Pt(333, 167)},
		{name: "smallest", background: image.Rect(0, 0, 3, 3), wantSize: image.Pt(1, 1), wantOffset: image.Pt(1, 1)},
		{name: "too small", background: image.Rect(0, 0, 2, 9), wantErr: ErrBackgroundTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputePlacement(tt.background)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, got.Size)
			assert.Equal(t, tt.wantOffset, got.Offset)
		})
	}
}

func TestAlphaMask(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(1, 0, color.NRGBA{A: 128})
	img.SetNRGBA(2, 1, color.NRGBA{R: 255, A: 255})

	mask := AlphaMask(img)
	assert.Equal(t, []uint8{0, 128, 0, 0, 0, 255}, mask.Pix)
}

func TestBuildMask(t *testing.T) {
	productMask := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range productMask.Pix {
		productMask.Pix[i] = 255
	}
	background := image.Rect(0, 0, 30, 30)
	placement, err := ComputePlacement(background)
	require.NoError(t, err)

	centered := BuildMask(productMask, background, placement, MaskCentered)
	bbox, ok := maskBBox(centered)
	require.True(t, ok)
	assert.Equal(t, image.Rect(10, 10, 20, 20), bbox)

	stretched := BuildMask(productMask, background, placement, MaskStretched)
	bbox, ok = maskBBox(stretched)
	require.True(t, ok)
	assert.Equal(t, background, bbox)

	// 未指定模式时按拉伸处理
	assert.Equal(t, stretched.Pix, BuildMask(productMask, background, placement, "").Pix)
}

func TestMaskBBox_Empty(t *testing.T) {
	_, ok := maskBBox(image.NewGray(image.Rect(0, 0, 5, 5)))
	assert.False(t, ok)
}

func TestBlender_Blend(t *testing.T) {
	tests := []struct {
		name string
		mode MaskMode
		// 必须被重绘的点和必须保持不变的点
		inside  image.Point
		outside image.Point
	}{
		{name: "centered", mode: MaskCentered, inside: image.Pt(150, 120), outside: image.Pt(110, 90)},
		{name: "stretched", mode: MaskStretched, inside: image.Pt(110, 90), outside: image.Pt(20, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			product := writeProduct(t, dir, image.Rect(30, 20, 60, 40))
			background := writeBackground(t, dir, 300, 240)
			output := filepath.Join(dir, "output", "final_shoe.png_living_room.jpg.png")

			fake := &fakeInpainter{}
			b := NewBlender(fake, "Realistic product placement", tt.mode)
			require.NoError(t, b.Blend(context.Background(), product, background, output))

			assert.Equal(t, 1, fake.calls)
			assert.Equal(t, "Realistic product placement", fake.req.Prompt)
			assert.Equal(t, image.Rect(0, 0, 300, 240), fake.req.Image.Bounds())

			mask := fake.req.Mask.(*image.Gray)
			assert.Equal(t, image.Rect(0, 0, 300, 240), mask.Bounds())
			assert.Greater(t, mask.GrayAt(tt.inside.X, tt.inside.Y).Y, uint8(200))
			assert.Zero(t, mask.GrayAt(tt.outside.X, tt.outside.Y).Y)

			if tt.mode == MaskCentered {
				bbox, ok := maskBBox(mask)
				require.True(t, ok)
				assert.True(t, bbox.In(image.Rect(100, 80, 200, 160)), "mask %v escapes placement", bbox)
			}

			got, err := util.OpenImage(output)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 300, 240), got.Bounds())
		})
	}
}

func TestBlender_BlendResizesResultToBackground(t *testing.T) {
	dir := t.TempDir()
	product := writeProduct(t, dir, image.Rect(0, 0, 90, 60))
	background := writeBackground(t, dir, 301, 243)
	output := filepath.Join(dir, "final.png")

	fake := &fakeInpainter{result: imaging.New(296, 240, color.NRGBA{A: 255})}
	require.NoError(t, NewBlender(fake, "p", MaskCentered).Blend(context.Background(), product, background, output))

	got, err := util.OpenImage(output)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 301, 243), got.Bounds())
}

func TestBlender_BlendErrors(t *testing.T) {
	dir := t.TempDir()
	product := writeProduct(t, dir, image.Rect(30, 20, 60, 40))
	background := writeBackground(t, dir, 300, 240)

	corrupt := filepath.Join(dir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not a jpeg"), 0o644))

	tinyDir := t.TempDir()
	tiny := writeBackground(t, tinyDir, 2, 2)

	tests := []struct {
		name       string
		product    string
		background string
		inpaintErr error
		wantIs     error
		wantMsg    string
		wantCalls  int
	}{
		{name: "missing product", product: filepath.Join(dir, "missing.png"), background: background, wantMsg: "load product"},
		{name: "corrupt background", product: product, background: corrupt, wantMsg: "load background"},
		{name: "missing background", product: product, background: filepath.Join(dir, "missing.jpg"), wantMsg: "load background"},
		{name: "tiny background", product: product, background: tiny, wantIs: ErrBackgroundTooSmall},
		{name: "model failure", product: product, background: background, inpaintErr: errors.New("cuda oom"), wantMsg: "cuda oom", wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "final.png")
			fake := &fakeInpainter{err: tt.inpaintErr}

			err := NewBlender(fake, "p", MaskCentered).Blend(context.Background(), tt.product, tt.background, output)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Equal(t, tt.wantCalls, fake.calls)
			assert.NoFileExists(t, output)
		})
	}
}

func TestBlender_BlendTransparentProduct(t *testing.T) {
	dir := t.TempDir()
	product := writeProduct(t, dir, image.Rectangle{})
	background := writeBackground(t, dir, 300, 240)
	output := filepath.Join(dir, "final.png")

	for _, mode := range []MaskMode{MaskStretched, MaskCentered} {
		t.Run(string(mode), func(t *testing.T) {
			fake := &fakeInpainter{}
			require.NoError(t, NewBlender(fake, "p", mode).Blend(context.Background(), product, background, output))

			assert.Equal(t, 1, fake.calls)
			_, ok := maskBBox(fake.req.Mask.(*image.Gray))
			assert.False(t, ok)
			assert.FileExists(t, output)
		})
	}
}
