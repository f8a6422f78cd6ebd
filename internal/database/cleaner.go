package database

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"pictor/internal/metrics"
	"pictor/internal/storage"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
	"pictor/pkg/utils"
)

/*
WORKER DETAILS: Orphan Reconciliation
=====================================

Derivative runs write files before their record exists and never roll back,
so a failed or cancelled upload can leave files nobody owns. The sweeper
reconciles the upload tree against the record store:

1. Upload tree
   Every file below <root>/<slug>/<id>/<derivative>/ is reduced to its base
   name (source_ prefix and @<n>x suffix removed). Files whose base is not
   referenced by a record of the same resource directory are deleted, then
   empty directories are pruned bottom-up.

2. Temp uploads
   Temp rows older than the configured TTL are deleted with their files, and
   files in the temp directory without a row are removed.

3. Safety
   Anything modified within MinAge is skipped, so files of an upload still
   in flight are never touched.
*/

var retinaSuffix = regexp.MustCompile(`@\d+x$`)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Files int
	Dirs  int
	Temps int
	Bytes int64
}

type Sweeper struct {
	store   Store
	files   *storage.FileStore
	tempDir string
	tempTTL time.Duration
	log     *logger.Logger

	// MinAge protects recently written files from removal.
	MinAge time.Duration
	now    func() time.Time
}

func NewSweeper(store Store, files *storage.FileStore, tempDir string, tempTTL time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		files:   files,
		tempDir: filepath.Clean(tempDir),
		tempTTL: tempTTL,
		log:     log,
		MinAge:  15 * time.Minute,
		now:     time.Now,
	}
}

// Start runs Sweep every interval until ctx is cancelled. The first pass
// runs immediately.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.log.Info("Orphan sweeper started. Interval: %s, temp TTL: %s", interval, s.tempTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("Sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	owned, err := s.ownedNames(ctx)
	if err != nil {
		return report, err
	}

	root := filepath.Clean(s.files.Root)
	slugs, err := os.ReadDir(root)
	if err != nil {
		return report, err
	}
	for _, slug := range slugs {
		slugDir := filepath.Join(root, slug.Name())
		if !slug.IsDir() || slugDir == s.tempDir {
			continue
		}
		ids, err := os.ReadDir(slugDir)
		if err != nil {
			s.log.Warn("Sweep cannot read %s: %v", slugDir, err)
			continue
		}
		for _, id := range ids {
			if !id.IsDir() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			key := slug.Name() + "/" + id.Name()
			s.sweepResource(filepath.Join(slugDir, id.Name()), owned[key], &report)
		}
	}

	if err := s.sweepTemps(ctx, &report); err != nil {
		return report, err
	}

	if report.Files+report.Dirs+report.Temps > 0 {
		s.log.Info("Sweep complete. Files: %d, dirs: %d, temps: %d, freed: %s",
			report.Files, report.Dirs, report.Temps, utils.FormatBytes(report.Bytes))
	}
	return report, nil
}

// ownedNames maps "<slug>/<id>" to the base names referenced by records.
func (s *Sweeper) ownedNames(ctx context.Context) (map[string]map[string]struct{}, error) {
	records, err := s.store.AllDerivatives(ctx)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]map[string]struct{}, len(records))
	for _, rec := range records {
		key := storage.Slugify(rec.ResourceType) + "/" + rec.ResourceID
		if owned[key] == nil {
			owned[key] = map[string]struct{}{}
		}
		base := storage.BaseFromSource(rec.OriginalImage)
		owned[key][base] = struct{}{}
		owned[key][transform.OutputName(base)] = struct{}{}
	}
	return owned, nil
}

func (s *Sweeper) sweepResource(dir string, owned map[string]struct{}, report *SweepReport) {
	derivatives, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-s.MinAge)

	for _, d := range derivatives {
		if !d.IsDir() {
			continue
		}
		derivDir := filepath.Join(dir, d.Name())
		entries, err := os.ReadDir(derivDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if _, ok := owned[ownerName(e.Name())]; ok {
				continue
			}
			path := filepath.Join(derivDir, e.Name())
			if err := s.files.Remove(path); err != nil {
				s.log.Warn("Sweep failed to remove %s: %v", path, err)
				continue
			}
			report.Files++
			report.Bytes += info.Size()
			metrics.SweepRemoved.WithLabelValues("file").Inc()
		}
		s.pruneDir(derivDir, report)
	}
	s.pruneDir(dir, report)
	s.pruneDir(filepath.Dir(dir), report)
}

func (s *Sweeper) pruneDir(dir string, report *SweepReport) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err == nil {
		report.Dirs++
		metrics.SweepRemoved.WithLabelValues("dir").Inc()
	}
}

func (s *Sweeper) sweepTemps(ctx context.Context, report *SweepReport) error {
	stale, err := s.store.StaleTemps(ctx, s.now().Add(-s.tempTTL))
	if err != nil {
		return err
	}
	for _, t := range stale {
		report.Bytes += s.files.Size(t.Path)
		if err := s.files.Remove(t.Path); err != nil {
			s.log.Warn("Sweep failed to remove temp file %s: %v", t.Path, err)
			continue
		}
		if err := s.store.DeleteTemp(ctx, t.ID); err != nil {
			return err
		}
		report.Temps++
		metrics.SweepRemoved.WithLabelValues("temp").Inc()
	}

	temps, err := s.store.AllTemps(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(temps))
	for _, t := range temps {
		known[filepath.Base(t.Path)] = struct{}{}
	}

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return nil
	}
	cutoff := s.now().Add(-s.MinAge)
	for _, e := range entries {
		if _, ok := known[e.Name()]; ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.files.Remove(filepath.Join(s.tempDir, e.Name())); err == nil {
			report.Files++
			report.Bytes += info.Size()
			metrics.SweepRemoved.WithLabelValues("file").Inc()
		}
	}
	return nil
}

// ownerName reduces a stored file name to the base name a record refers to.
func ownerName(name string) string {
	name = strings.TrimPrefix(name, storage.SourcePrefix)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return retinaSuffix.ReplaceAllString(stem, "") + ext
}
