package packaging

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
)

var (
	// ErrUnsafeArchive is returned for archives containing absolute paths or
	// traversal segments.
	ErrUnsafeArchive = errors.New("archive contains unsafe entry")

	// ErrSlugExists is returned when the target slug is already installed and
	// overwrite was not requested.
	ErrSlugExists = errors.New("agent slug already installed")

	// ErrManifestMissing is returned when the archive has no manifest.
	ErrManifestMissing = errors.New("archive has no manifest")
)

// maxArchiveFileSize caps a single extracted file to keep a hostile archive
// from filling the disk.
const maxArchiveFileSize = 32 << 20 // 32MB

// ImportResult describes a completed import.
type ImportResult struct {
	Slug   string  `json:"slug"`
	Dir    string  `json:"dir"`
	Report *Report `json:"report"`
}

// Importer installs agent packages from zip archives into the agents
// directory and re-validates them in place.
type Importer struct {
	validator *Validator
	agentsDir string
	logger    *logger.Logger
}

// NewImporter creates an importer installing under agentsDir.
func NewImporter(validator *Validator, agentsDir string, log *logger.Logger) *Importer {
	return &Importer{
		validator: validator,
		agentsDir: agentsDir,
		logger:    log.WithFields(zap.String("component", "package_importer")),
	}
}

// Import extracts the archive, validates the installed package, and returns
// the report. Nothing is extracted when any entry is unsafe or the slug is
// already installed without overwrite.
func (i *Importer) Import(archive []byte, overwrite bool) (*ImportResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	for _, f := range zr.File {
		if err := checkEntryName(f.Name); err != nil {
			return nil, err
		}
	}

	manifest, err := archiveManifest(zr)
	if err != nil {
		return nil, err
	}
	if !platform.ValidSlug(manifest.Slug) {
		return nil, fmt.Errorf("invalid slug %q in manifest", manifest.Slug)
	}

	dest := filepath.Join(i.agentsDir, manifest.Slug)
	if _, err := os.Stat(dest); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrSlugExists, manifest.Slug)
		}
		if err := os.RemoveAll(dest); err != nil {
			return nil, fmt.Errorf("remove existing package: %w", err)
		}
	}

	if err := extract(zr, dest); err != nil {
		return nil, err
	}

	pkg, err := Load(dest)
	if err != nil {
		return nil, err
	}
	report := i.validator.Validate(pkg)

	i.logger.Info("Package imported",
		zap.String("slug", manifest.Slug),
		zap.String("dir", dest),
		zap.Bool("valid", report.Valid()))
	return &ImportResult{Slug: manifest.Slug, Dir: dest, Report: report}, nil
}

// checkEntryName rejects absolute paths and traversal segments before any
// byte is extracted.
func checkEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return fmt.Errorf("%w: %q", ErrUnsafeArchive, name)
	}
	if filepath.IsAbs(name) || (len(name) > 1 && name[1] == ':') {
		return fmt.Errorf("%w: %q", ErrUnsafeArchive, name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrUnsafeArchive, name)
		}
	}
	return nil
}

// archiveManifest reads the manifest from the archive root or backend/.
func archiveManifest(zr *zip.Reader) (*platform.AgentManifest, error) {
	for _, candidate := range []string{manifestFile, backendDir + "/" + manifestFile} {
		for _, f := range zr.File {
			if filepath.ToSlash(f.Name) != candidate {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(io.LimitReader(rc, maxArchiveFileSize))
			rc.Close()
			if err != nil {
				return nil, err
			}
			var manifest platform.AgentManifest
			if err := json.Unmarshal(data, &manifest); err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
			return &manifest, nil
		}
	}
	return nil, ErrManifestMissing
}

func extract(zr *zip.Reader, dest string) error {
	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if name == exportInfoFile {
			continue
		}
		if f.FileInfo().IsDir() {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxArchiveFileSize))
		rc.Close()
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
