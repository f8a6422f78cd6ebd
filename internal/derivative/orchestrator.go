// Package derivative drives the transform engine over every derivative a
// slot requires and writes the results to their canonical paths.
package derivative

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"golang.org/x/sync/errgroup"

	"pictor/internal/apperr"
	"pictor/internal/metrics"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
)

// Request describes one upload to derive.
type Request struct {
	ResourceType string
	ResourceID   string
	Slot         *slots.Slot
	// Name is the sanitized base name of the upload.
	Name   string
	Source []byte
	// RetinaFactor of 0 disables retina siblings.
	RetinaFactor int
}

type Options struct {
	// Workers bounds the uploads derived at the same time.
	Workers int
	// ThumbnailWorkers bounds parallel thumbnails inside one upload.
	ThumbnailWorkers int
	TimeoutBase      time.Duration
	TimeoutPerMB     time.Duration
}

type Orchestrator struct {
	namer    storage.Namer
	files    *storage.FileStore
	engine   *transform.Engine
	resolver slots.Resolver
	opts     Options
	pool     pond.ResultPool[*Manifest]
	log      *logger.Logger
}

func New(namer storage.Namer, files *storage.FileStore, engine *transform.Engine, resolver slots.Resolver, opts Options, log *logger.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ThumbnailWorkers < 1 {
		opts.ThumbnailWorkers = 1
	}
	return &Orchestrator{
		namer:    namer,
		files:    files,
		engine:   engine,
		resolver: resolver,
		opts:     opts,
		pool:     pond.NewResultPool[*Manifest](opts.Workers),
		log:      log,
	}
}

// Close waits for queued uploads and stops the worker pool.
func (o *Orchestrator) Close() {
	o.pool.StopAndWait()
}

// Resolver returns the derivative resolver in use.
func (o *Orchestrator) Resolver() slots.Resolver {
	return o.resolver
}

// Produce derives every required file of req on the worker pool. Decode and
// dimension errors are returned before anything is written. Once writing
// has begun a failure leaves the files written so far in place.
func (o *Orchestrator) Produce(ctx context.Context, req Request) (*Manifest, error) {
	task := o.pool.SubmitErr(func() (*Manifest, error) {
		return o.produce(ctx, req)
	})
	m, err := task.Wait()
	if err != nil {
		metrics.TransformFailures.WithLabelValues(apperr.Code(err)).Inc()
		return nil, err
	}
	return m, nil
}

func (o *Orchestrator) produce(ctx context.Context, req Request) (*Manifest, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, transform.Timeout(o.opts.TimeoutBase, o.opts.TimeoutPerMB, int64(len(req.Source))))
	defer cancel()

	src, err := o.engine.Decode(ctx, req.Source, storage.OriginalDerivative)
	if err != nil {
		return nil, err
	}

	factor := req.RetinaFactor
	thumbs := o.resolver.RequiredDerivatives(req.Slot)
	for _, t := range thumbs {
		if err := transform.Validate(t.Options(max(factor, 1))); err != nil {
			return nil, err
		}
	}

	m, err := o.Manifest(req.ResourceType, req.ResourceID, storage.SourceName(req.Name), factor, thumbs)
	if err != nil {
		return nil, err
	}

	var written atomic.Int64
	write := func(path, kind string, data []byte) error {
		if err := o.files.Write(path, data); err != nil {
			return err
		}
		written.Add(int64(len(data)))
		metrics.DerivativesWritten.WithLabelValues(kind).Inc()
		return nil
	}

	if err := write(m.Source, "source", req.Source); err != nil {
		return nil, err
	}

	// The source needs re-encoding whenever its format has no encoder.
	verbatim := transform.OutputName(req.Name) == req.Name
	if factor > 0 {
		retina := req.Source
		if !verbatim {
			if retina, err = o.engine.Downscale(ctx, src, 1, storage.OriginalDerivative); err != nil {
				return nil, err
			}
		}
		if err := write(m.Original.Retina, "retina", retina); err != nil {
			return nil, err
		}
	}
	if factor > 0 || !verbatim {
		base, err := o.engine.Downscale(ctx, src, max(factor, 1), storage.OriginalDerivative)
		if err != nil {
			return nil, err
		}
		if err := write(m.Original.Path, "original", base); err != nil {
			return nil, err
		}
	} else if err := write(m.Original.Path, "original", req.Source); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ThumbnailWorkers)
	for _, t := range thumbs {
		variant := m.Thumbnails[t.Name]
		g.Go(func() error {
			if factor > 0 {
				data, err := o.engine.Render(gctx, src, t.Options(factor))
				if err != nil {
					return err
				}
				if err := write(variant.Retina, "thumbnail", data); err != nil {
					return err
				}
			}
			data, err := o.engine.Render(gctx, src, t.Options(1))
			if err != nil {
				return err
			}
			return write(variant.Path, "thumbnail", data)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.Bytes = written.Load()
	metrics.ProduceDuration.Observe(time.Since(start).Seconds())
	o.log.Debug("Derived %s/%s %s: %d files in %v",
		req.ResourceType, req.ResourceID, req.Name, len(m.Files()), time.Since(start))
	return m, nil
}

// Manifest computes the paths of every file of an upload whose stored
// source name is sourceName. It touches nothing on disk.
func (o *Orchestrator) Manifest(resourceType, resourceID, sourceName string, factor int, thumbs []slots.Thumbnail) (*Manifest, error) {
	name := storage.BaseFromSource(sourceName)
	out := transform.OutputName(name)

	originalDir, err := o.namer.Dir(resourceType, resourceID, storage.OriginalDerivative)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Name:         name,
		SourceName:   sourceName,
		RetinaFactor: factor,
		Source:       filepath.Join(originalDir, sourceName),
		Original:     o.variant(originalDir, out, factor),
		Thumbnails:   make(map[string]Variant, len(thumbs)),
	}
	for _, t := range thumbs {
		dir, err := o.namer.Dir(resourceType, resourceID, t.Name)
		if err != nil {
			return nil, err
		}
		m.Thumbnails[t.Name] = o.variant(dir, out, factor)
	}
	return m, nil
}

func (o *Orchestrator) variant(dir, name string, factor int) Variant {
	v := Variant{Path: filepath.Join(dir, name)}
	if factor > 0 {
		v.Retina = filepath.Join(dir, storage.RetinaName(name, factor))
	}
	return v
}

// Remove deletes every file of m and prunes the directories left empty.
// Missing files are ignored so a partially derived upload can be removed.
func (o *Orchestrator) Remove(m *Manifest) error {
	dirs := map[string]struct{}{}
	var firstErr error
	for _, path := range m.Files() {
		if err := o.files.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := o.files.PruneEmpty(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
