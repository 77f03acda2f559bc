// Package openscad renders OpenSCAD sources to STL with the openscad binary
// and resolves their use/include dependencies.
package openscad

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultBinary is looked up in PATH
const DefaultBinary = "openscad"

var (
	ErrNotInstalled = errors.New("openscad not found")
	ErrRenderFailed = errors.New("openscad render failed")
)

// Matches: use <file.scad>, include <./lib/file.scad>
var dependencyPattern = regexp.MustCompile(`^\s*(?:use|include)\s*<([^>]+)>`)

// Renderer runs one openscad binary
type Renderer struct {
	binary string

	// libraryDir is searched for dependencies not found next to the including file
	libraryDir string
}

func NewRenderer(binary, libraryDir string) *Renderer {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Renderer{binary: binary, libraryDir: libraryDir}
}

// IsSource reports whether path names an OpenSCAD file
func IsSource(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".scad")
}

// Render writes the STL rendering of scadFile to outputFile. The process is
// killed when ctx is done.
func (r *Renderer) Render(ctx context.Context, scadFile, outputFile string) error {
	binary, err := exec.LookPath(r.binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotInstalled, r.binary, err)
	}
	source, err := filepath.Abs(scadFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	cmd := exec.CommandContext(ctx, binary, "-o", outputFile, source)
	cmd.Dir = filepath.Dir(source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%w: %s: %w", ErrRenderFailed, filepath.Base(source), err)
		}
		return fmt.Errorf("%w: %s: %w: %s", ErrRenderFailed, filepath.Base(source), err, msg)
	}
	if _, err := os.Stat(outputFile); err != nil {
		return fmt.Errorf("%w: no output written: %w", ErrRenderFailed, err)
	}
	return nil
}

// Dependencies returns scadFile followed by every file it uses or includes,
// transitively, each listed once in discovery order
func (r *Renderer) Dependencies(scadFile string) ([]string, error) {
	root, err := filepath.Abs(scadFile)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{root: true}
	deps := []string{root}
	for i := 0; i < len(deps); i++ {
		direct, err := r.directDependencies(deps[i])
		if err != nil {
			return nil, err
		}
		for _, dep := range direct {
			if !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
	}
	return deps, nil
}

func (r *Renderer) directDependencies(scadFile string) ([]string, error) {
	file, err := os.Open(scadFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", scadFile, err)
	}
	defer file.Close()

	var deps []string
	dir := filepath.Dir(scadFile)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		if m := dependencyPattern.FindStringSubmatch(line); m != nil {
			deps = append(deps, r.resolve(m[1], dir))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", scadFile, err)
	}
	return deps, nil
}

// resolve prefers the including file's directory, then the library dir.
// Explicitly relative paths never fall back.
func (r *Renderer) resolve(dep, dir string) string {
	local := filepath.Join(dir, dep)
	if strings.HasPrefix(dep, "./") || strings.HasPrefix(dep, "../") || r.libraryDir == "" {
		return local
	}
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return filepath.Join(r.libraryDir, dep)
}
