package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/ports/output"
)

// ProgressFunc is invoked synchronously between layers with the layer name,
// its 1-based index and the worklist total.
type ProgressFunc func(layer string, index, total int)

// Processor orchestrates detection, extraction, reading and loading for
// whole orders. It has no internal concurrency; callers parallelize across
// orders, each with its own loader connection.
type Processor struct {
	detector   *Detector
	loader     output.SpatialLoader
	opener     output.ContainerOpener
	metrics    output.MetricsCollector
	logger     *slog.Logger
	targetSRID int
	batchSize  int
	progress   ProgressFunc
}

// NewProcessor creates a processor.
func NewProcessor(
	detector *Detector,
	loader output.SpatialLoader,
	opener output.ContainerOpener,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	targetSRID, batchSize int,
) *Processor {
	if targetSRID == 0 {
		targetSRID = domain.SRIDWGS84
	}
	return &Processor{
		detector:   detector,
		loader:     loader,
		opener:     opener,
		metrics:    metrics,
		logger:     logger,
		targetSRID: targetSRID,
		batchSize:  batchSize,
	}
}

// SetProgress installs a progress callback.
func (p *Processor) SetProgress(fn ProgressFunc) {
	p.progress = fn
}

// workItem is one (archive, entry, layer) triple of the second pass.
type workItem struct {
	archive string
	entry   string
	layer   string
}

// ProcessOrder publishes every vector layer of one order. All failure is
// encoded in the result; nothing is raised past this entry point.
func (p *Processor) ProcessOrder(ctx context.Context, orderID string, requestedLayers []string) domain.ProcessResult {
	start := time.Now()
	result := domain.ProcessResult{OrderID: orderID}

	fail := func(format string, args ...interface{}) domain.ProcessResult {
		result.Error = fmt.Sprintf(format, args...)
		result.Duration = time.Since(start)
		p.metrics.IncOrdersProcessed(false)
		p.logger.Error("order processing failed", "order", orderID, "error", result.Error)
		return result
	}

	order, err := p.detector.Detect(ctx, orderID)
	if err != nil {
		return fail("detecting order: %v", err)
	}
	result.DataType = order.DataType

	if !order.DataType.IsPublishable() {
		return fail("order type %s is not publishable", order.DataType)
	}

	allow := allowSet(requestedLayers)
	worklist, err := p.buildWorklist(ctx, order, allow)
	if err != nil {
		return fail("building worklist: %v", err)
	}

	p.logger.Info("processing order",
		"order", orderID,
		"layers", len(worklist),
		"target_srid", p.targetSRID,
	)

	for i, item := range worklist {
		if p.progress != nil {
			p.progress(item.layer, i+1, len(worklist))
		}
		lr, skipped := p.loadItem(ctx, orderID, item)
		if skipped {
			result.Skipped = append(result.Skipped, item.layer)
			p.metrics.IncLayersLoaded("skipped")
			continue
		}
		result.Results = append(result.Results, lr)
		if lr.Success {
			p.metrics.IncLayersLoaded("loaded")
			p.metrics.AddFeaturesLoaded(lr.FeatureCount)
		} else {
			p.metrics.IncLayersLoaded("failed")
		}
		p.metrics.ObserveLayerLoadDuration(lr.LayerName, lr.Duration)
	}

	// A fully-skipped order with zero results still counts as success.
	result.Success = true
	for _, lr := range result.Results {
		if !lr.Success {
			result.Success = false
			break
		}
	}
	result.Duration = time.Since(start)
	p.metrics.IncOrdersProcessed(result.Success)
	p.metrics.ObserveOrderDuration(result.Duration)

	p.logger.Info("order processed",
		"order", orderID,
		"success", result.Success,
		"loaded", len(result.Results),
		"skipped", len(result.Skipped),
		"features", result.FeatureTotal(),
	)
	return result
}

// buildWorklist runs the first pass: extract every candidate container,
// read its actual layer names and union them (intersected with the
// allowlist) into a flat worklist. The filename-derived guess is discarded
// once real names are known.
func (p *Processor) buildWorklist(ctx context.Context, order *domain.DetectedOrder, allow map[string]struct{}) ([]workItem, error) {
	orderDir := p.detector.OrderDir(order.OrderID)

	var worklist []workItem
	for _, f := range order.Files {
		if f.Extension != ".gpkg" {
			continue
		}
		if allow != nil {
			if _, ok := allow[layerGuess(f)]; !ok {
				continue
			}
		}

		names, err := p.actualLayers(ctx, orderDir, f)
		if err != nil {
			p.logger.Warn("skipping unreadable container entry",
				"archive", f.ContainerName, "entry", f.InnerPath, "error", err)
			continue
		}
		for _, name := range names {
			if allow != nil {
				if _, ok := allow[name]; !ok {
					continue
				}
			}
			worklist = append(worklist, workItem{
				archive: f.ContainerName,
				entry:   f.InnerPath,
				layer:   name,
			})
		}
	}
	return worklist, nil
}

func (p *Processor) actualLayers(ctx context.Context, orderDir string, f domain.DetectedFile) ([]string, error) {
	tmp, err := extractEntry(filepath.Join(orderDir, f.ContainerName), f.InnerPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp) }()

	container, err := p.opener.Open(ctx, tmp)
	if err != nil {
		return nil, err
	}
	defer func() { _ = container.Close() }()

	return container.ListLayers(ctx)
}

// loadItem runs the second pass for one triple: extract to a transient
// file, skip when the content hash is current, otherwise load. The
// transient file is always removed.
func (p *Processor) loadItem(ctx context.Context, orderID string, item workItem) (domain.LoadResult, bool) {
	orderDir := p.detector.OrderDir(orderID)

	tmp, err := extractEntry(filepath.Join(orderDir, item.archive), item.entry)
	if err != nil {
		return domain.LoadResult{
			LayerName: item.layer,
			Error:     fmt.Sprintf("extracting %s: %v", item.entry, err),
		}, false
	}
	defer func() { _ = os.Remove(tmp) }()

	current, err := p.loader.IsLayerCurrent(ctx, tmp, item.layer, orderID)
	if err != nil {
		return domain.LoadResult{
			LayerName: item.layer,
			Error:     fmt.Sprintf("checking layer currency: %v", err),
		}, false
	}
	if current {
		p.logger.Info("layer unchanged, skipping", "order", orderID, "layer", item.layer)
		return domain.LoadResult{}, true
	}

	return p.loader.LoadLayer(ctx, tmp, item.layer, output.LoadOptions{
		OrderID:    orderID,
		TargetSRID: p.targetSRID,
		Policy:     domain.PolicyReplace,
		BatchSize:  p.batchSize,
	}), false
}

// ProcessAll processes every order directory under the download root.
func (p *Processor) ProcessAll(ctx context.Context, requestedLayers []string) ([]domain.ProcessResult, error) {
	orders, err := p.detector.ListOrders()
	if err != nil {
		return nil, err
	}
	results := make([]domain.ProcessResult, 0, len(orders))
	for _, orderID := range orders {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.ProcessOrder(ctx, orderID, requestedLayers))
	}
	return results, nil
}

// ProcessIncremental processes only the orders on disk that have no loaded
// metadata yet. Changed orders are caught by the per-layer hash gate on the
// next explicit ProcessOrder call.
func (p *Processor) ProcessIncremental(ctx context.Context) ([]domain.ProcessResult, error) {
	loaded, err := p.loadedOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := p.detector.ListOrders()
	if err != nil {
		return nil, err
	}

	var results []domain.ProcessResult
	for _, orderID := range orders {
		if _, ok := loaded[orderID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.ProcessOrder(ctx, orderID, nil))
	}
	return results, nil
}

// Status reports the pipeline state across all orders.
func (p *Processor) Status(ctx context.Context) (*domain.ProcessingStatus, error) {
	onDisk, err := p.detector.ListOrders()
	if err != nil {
		return nil, err
	}
	records, err := p.loader.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := p.loader.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	status := &domain.ProcessingStatus{
		OrdersOnDisk: onDisk,
		Tables:       tables,
		CheckedAt:    time.Now(),
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		status.FeaturesTotal += r.FeatureCount
		if _, ok := seen[r.OrderID]; !ok {
			seen[r.OrderID] = struct{}{}
			status.OrdersLoaded = append(status.OrdersLoaded, r.OrderID)
		}
	}
	p.metrics.SetOrdersTracked(len(status.OrdersLoaded))
	return status, nil
}

// CleanupStaleTables drops published tables and metadata for orders no
// longer present on disk. Returns the number of dropped layers.
func (p *Processor) CleanupStaleTables(ctx context.Context) (int, error) {
	onDisk, err := p.detector.ListOrders()
	if err != nil {
		return 0, err
	}
	diskSet := make(map[string]struct{}, len(onDisk))
	for _, o := range onDisk {
		diskSet[o] = struct{}{}
	}

	records, err := p.loader.Metadata(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, r := range records {
		if _, ok := diskSet[r.OrderID]; ok {
			continue
		}
		p.logger.Info("dropping stale layer",
			"order", r.OrderID, "layer", r.LayerName, "table", r.TableName)
		if err := p.loader.DropLayer(ctx, r.TableName, r.OrderID, r.LayerName); err != nil {
			p.logger.Error("failed to drop stale layer",
				"order", r.OrderID, "layer", r.LayerName, "error", err)
			continue
		}
		dropped++
	}
	return dropped, nil
}

// OrderInfo returns the detection view of one order.
func (p *Processor) OrderInfo(ctx context.Context, orderID string) (*domain.DetectedOrder, error) {
	return p.detector.Detect(ctx, orderID)
}

func (p *Processor) loadedOrders(ctx context.Context) (map[string]struct{}, error) {
	records, err := p.loader.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	loaded := make(map[string]struct{})
	for _, r := range records {
		loaded[r.OrderID] = struct{}{}
	}
	return loaded, nil
}

// layerGuess derives a layer name guess from the entry file name. National
// coverage suffixes are stripped. The guess is only used for allowlist
// pre-filtering; real names come from the container catalog.
func layerGuess(f domain.DetectedFile) string {
	name := f.BaseName()
	for _, suffix := range []string{"_sverige", "_sweden"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

func allowSet(layers []string) map[string]struct{} {
	if len(layers) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		set[l] = struct{}{}
	}
	return set
}
