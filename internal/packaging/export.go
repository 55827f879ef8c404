package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/storage"
)

// ErrValidationFailed is returned when a package fails admission and can
// therefore not be exported or installed.
var ErrValidationFailed = errors.New("package validation failed")

// exportPrefix is where archives land inside the platform storage view.
const exportPrefix = "agents/exports/"

// exportInfo is the record embedded in every archive.
type exportInfo struct {
	Manifest   platform.AgentManifest `json:"manifest"`
	ExportedAt time.Time              `json:"exported_at"`
}

// ExportResult describes a completed export.
type ExportResult struct {
	Slug   string  `json:"slug"`
	Key    string  `json:"key"`
	Size   int     `json:"size"`
	Report *Report `json:"report"`
}

// Exporter validates a package directory and uploads its zip archive to the
// platform view of the object store.
type Exporter struct {
	validator *Validator
	objects   storage.Scoped
	logger    *logger.Logger
}

// NewExporter creates an exporter writing to the given bucket.
func NewExporter(validator *Validator, store storage.ObjectStore, bucket string, log *logger.Logger) *Exporter {
	return &Exporter{
		validator: validator,
		objects:   storage.Platform(store, bucket),
		logger:    log.WithFields(zap.String("component", "package_exporter")),
	}
}

// Export validates the package at dir and, on pass, uploads the archive. The
// report is returned even when validation fails.
func (e *Exporter) Export(ctx context.Context, dir string) (*ExportResult, error) {
	pkg, err := Load(dir)
	if err != nil {
		return nil, err
	}

	report := e.validator.Validate(pkg)
	result := &ExportResult{Slug: pkg.Manifest.Slug, Report: report}
	if !report.Valid() {
		return result, fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(report.Errors()))
	}

	archive, err := buildArchive(pkg)
	if err != nil {
		return result, fmt.Errorf("build archive: %w", err)
	}

	key := fmt.Sprintf("%s%s-%s.zip", exportPrefix, pkg.Manifest.Slug, pkg.Manifest.Version)
	if err := e.objects.Put(ctx, key, archive, "application/zip"); err != nil {
		return result, fmt.Errorf("upload archive: %w", err)
	}

	result.Key = key
	result.Size = len(archive)
	e.logger.Info("Package exported",
		zap.String("slug", pkg.Manifest.Slug),
		zap.String("key", key),
		zap.Int("size", len(archive)))
	return result, nil
}

// Fetch returns a previously exported archive.
func (e *Exporter) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := e.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

func buildArchive(pkg *Package) ([]byte, error) {
	files, err := pkg.files()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(pkg.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}

	info, err := json.MarshalIndent(exportInfo{
		Manifest:   pkg.Manifest,
		ExportedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	w, err := zw.Create(exportInfoFile)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(info); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
