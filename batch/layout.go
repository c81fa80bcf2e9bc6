package batch

import (
	"path/filepath"

	"github.com/chaos-io/placement/config"
	"github.com/chaos-io/placement/util"
)

// Layout 工作目录结构及文件命名规则
type Layout struct {
	ProductsDir    string
	BackgroundsDir string
	TempDir        string
	OutputDir      string
	ProductExts    []string
	BackgroundExts []string
}

func NewLayout(cfg config.WorkspaceConfig) Layout {
	return Layout{
		ProductsDir:    filepath.Join(cfg.Root, cfg.ProductsDir),
		BackgroundsDir: filepath.Join(cfg.Root, cfg.BackgroundsDir),
		TempDir:        filepath.Join(cfg.Root, cfg.TempDir),
		OutputDir:      filepath.Join(cfg.Root, cfg.OutputDir),
		ProductExts:    cfg.ProductExts,
		BackgroundExts: cfg.BackgroundExts,
	}
}

// Setup 创建四个工作目录
func (l Layout) Setup() error {
	return util.EnsureDirs(l.ProductsDir, l.BackgroundsDir, l.OutputDir, l.TempDir)
}

func (l Layout) ListProducts() ([]string, error) {
	return util.ListFiles(l.ProductsDir, l.ProductExts...)
}

func (l Layout) ListBackgrounds() ([]string, error) {
	return util.ListFiles(l.BackgroundsDir, l.BackgroundExts...)
}

func (l Layout) ProductPath(product string) string {
	return filepath.Join(l.ProductsDir, product)
}

func (l Layout) BackgroundPath(background string) string {
	return filepath.Join(l.BackgroundsDir, background)
}

// CleanPath temp/clean_<product>
func (l Layout) CleanPath(product string) string {
	return filepath.Join(l.TempDir, "clean_"+product)
}

// OutputPath output/final_<product>_<background>.png
func (l Layout) OutputPath(product, background string) string {
	return filepath.Join(l.OutputDir, "final_"+product+"_"+background+".png")
}
