// Package packaging implements agent package I/O: the static validator, the
// zip exporter, and the importer. A package is a directory with a manifest,
// backend sources, prompt assets, and an optional frontend:
//
//	<slug>/
//	  manifest.json        (or backend/manifest.json)
//	  backend/agent.go
//	  prompts/system.md
//	  frontend/index.html
//
// The validator never executes package code. It is the only admission gate:
// deployment must not proceed when it reports errors.
package packaging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arborhq/arbor/internal/platform"
)

const (
	manifestFile = "manifest.json"
	backendDir   = "backend"
	promptsDir   = "prompts"
	frontendDir  = "frontend"

	exportInfoFile = "_export_info.json"
)

// systemPromptNames are the accepted system prompt file names, in order of
// preference.
var systemPromptNames = []string{"system.md", "system.txt", "system_prompt.md"}

// frontendEntryNames are the recognized frontend entry points.
var frontendEntryNames = []string{"index.html", "index.js", "index.tsx"}

// Package is a loaded agent package rooted at Dir.
type Package struct {
	Dir      string
	Manifest platform.AgentManifest

	// ManifestPath is where the manifest was found, relative to Dir.
	ManifestPath string

	// raw is the manifest exactly as read; schema validation runs on these
	// bytes so unknown fields are caught.
	raw []byte
}

// Load reads the package at dir. The manifest may live at the root or inside
// backend/.
func Load(dir string) (*Package, error) {
	for _, rel := range []string{manifestFile, filepath.Join(backendDir, manifestFile)} {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}

		var manifest platform.AgentManifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", rel, err)
		}
		return &Package{Dir: dir, Manifest: manifest, ManifestPath: rel, raw: data}, nil
	}
	return nil, fmt.Errorf("no %s found in %s", manifestFile, dir)
}

// SystemPrompt returns the system prompt contents, or "" when absent.
func (p *Package) SystemPrompt() (string, error) {
	for _, name := range systemPromptNames {
		data, err := os.ReadFile(filepath.Join(p.Dir, promptsDir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return "", nil
}

// HasFrontendEntry reports whether a recognized frontend entry point exists.
func (p *Package) HasFrontendEntry() bool {
	for _, name := range frontendEntryNames {
		if _, err := os.Stat(filepath.Join(p.Dir, frontendDir, name)); err == nil {
			return true
		}
	}
	return false
}

// BackendSources returns the Go source files under backend/, relative to Dir.
func (p *Package) BackendSources() ([]string, error) {
	root := filepath.Join(p.Dir, backendDir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var sources []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil {
			return err
		}
		sources = append(sources, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// files walks the package collecting every regular file, relative to Dir.
// Hidden files and directories are skipped.
func (p *Package) files() ([]string, error) {
	var out []string
	err := filepath.WalkDir(p.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
