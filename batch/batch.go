package batch

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/placement/blend"
	"github.com/chaos-io/placement/inpaint"
	"github.com/chaos-io/placement/rembg"
	"github.com/chaos-io/placement/util"
)

// PipelineLoader 每个 worker 启动时调用一次
type PipelineLoader func(ctx context.Context) (inpaint.Inpainter, error)

type Options struct {
	// Workers <= 0 表示每个 CPU 一个 worker
	Workers  int
	Prompt   string
	MaskMode blend.MaskMode
}

// Driver 对 产品 × 背景 做批量融合
type Driver struct {
	layout       Layout
	remover      rembg.Remover
	loadPipeline PipelineLoader
	opts         Options
}

func NewDriver(layout Layout, remover rembg.Remover, loader PipelineLoader, opts Options) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Driver{
		layout:       layout,
		remover:      remover,
		loadPipeline: loader,
		opts:         opts,
	}
}

func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	return d.RunWithID(ctx, ksuid.New().String())
}

// RunWithID 执行一次完整批处理；单个产品或单个组合的失败只记录日志，模型加载失败则整体返回错误
func (d *Driver) RunWithID(ctx context.Context, runID string) (*Summary, error) {
	log := logrus.WithField("run_id", runID)
	defer util.Trace("batch " + runID)()

	if err := d.layout.Setup(); err != nil {
		return nil, fmt.Errorf("setup directories: %w", err)
	}

	products, err := d.layout.ListProducts()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	backgrounds, err := d.layout.ListBackgrounds()
	if err != nil {
		return nil, fmt.Errorf("list backgrounds: %w", err)
	}

	// 每个 worker 都要加载一次模型，不必多于产品数
	workers := min(d.opts.Workers, len(products))

	summary := &Summary{
		RunID:       runID,
		StartedAt:   time.Now(),
		Workers:     workers,
		Products:    len(products),
		Backgrounds: len(backgrounds),
	}
	log.WithFields(logrus.Fields{
		"products":    len(products),
		"backgrounds": len(backgrounds),
		"workers":     workers,
	}).Info("starting batch")

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan string)

	g.Go(func() error {
		defer close(jobs)
		for _, product := range products {
			select {
			case jobs <- product:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			pipeline, err := d.loadPipeline(gctx)
			if err != nil {
				return fmt.Errorf("worker %d: load pipeline: %w", worker, err)
			}
			blender := blend.NewBlender(pipeline, d.opts.Prompt, d.opts.MaskMode)

			wlog := log.WithField("worker", worker)
			for product := range jobs {
				d.processProduct(gctx, wlog, blender, product, backgrounds, summary)
			}
			return nil
		})
	}

	err = g.Wait()
	summary.FinishedAt = time.Now()
	sort.Slice(summary.Pairs, func(i, j int) bool {
		if summary.Pairs[i].Product != summary.Pairs[j].Product {
			return summary.Pairs[i].Product < summary.Pairs[j].Product
		}
		return summary.Pairs[i].Background < summary.Pairs[j].Background
	})
	if err != nil {
		return summary, err
	}

	log.WithFields(logrus.Fields{
		"succeeded":       summary.Succeeded,
		"failed":          summary.Failed,
		"failed_products": len(summary.ProductFailures),
	}).Info("batch finished")
	return summary, nil
}

// processProduct 先去背景，再依次和每张背景融合
func (d *Driver) processProduct(ctx context.Context, log *logrus.Entry, blender *blend.Blender, product string, backgrounds []string, summary *Summary) {
	log = log.WithField("product", product)

	cleanPath := d.layout.CleanPath(product)
	if err := rembg.RemoveFile(ctx, d.remover, d.layout.ProductPath(product), cleanPath); err != nil {
		log.WithError(err).Error("error processing product")
		summary.addProductFailure(product, err)
		return
	}

	for _, background := range backgrounds {
		if ctx.Err() != nil {
			return
		}

		result := PairResult{
			Product:    product,
			Background: background,
			Output:     d.layout.OutputPath(product, background),
		}
		if err := blender.Blend(ctx, cleanPath, d.layout.BackgroundPath(background), result.Output); err != nil {
			log.WithError(err).WithField("background", background).Error("error blending images")
			result.Error = err.Error()
		}
		summary.addPair(result)
	}
}
