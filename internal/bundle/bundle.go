// Package bundle splits an evaluator archive into the per-backend archives.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/scoring"
)

// Directory names inside an evaluator archive.
const (
	SimulationDir = "verilator"
	SynthesisDir  = "openlane"
	ConfigDir     = "config"
)

// Scoring document names looked up in ConfigDir, in order.
var scoringFiles = []string{"scoring.json", "scoring.yaml", "scoring.yml"}

// maxExtractBytes bounds the uncompressed size of one evaluator archive.
const maxExtractBytes = 2 << 30

// ErrMalformedBundle is terminal: the archive cannot be evaluated as sent.
var ErrMalformedBundle = errors.New("malformed evaluator bundle")

var logger = logging.For("bundle")

// Bundle holds the repackaged backend archives. Each archive contains only
// the files of its own directory, rooted at that directory.
type Bundle struct {
	Simulation []byte
	Synthesis  []byte
	// Scoring is nil when the archive carries no scoring document.
	Scoring *scoring.Document
}

// Assemble extracts archive into a scratch directory, checks the required
// layout and repackages each backend directory. The scratch directory is
// removed before Assemble returns, whatever the outcome.
func Assemble(ctx context.Context, archive []byte) (*Bundle, error) {
	scratch, err := os.MkdirTemp("", "evaluator-*")
	if err != nil {
		return nil, fmt.Errorf("allocate scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.WithError(err).WithField("dir", scratch).Warn("Failed to remove scratch dir")
		}
	}()

	if err := extract(ctx, archive, scratch); err != nil {
		return nil, err
	}

	root, err := locateRoot(scratch)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, d := range []string{SimulationDir, SynthesisDir} {
		if !isDir(filepath.Join(root, d)) {
			missing = append(missing, d+"/")
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedBundle, strings.Join(missing, " and "))
	}

	b := &Bundle{}
	if b.Simulation, err = Pack(ctx, filepath.Join(root, SimulationDir)); err != nil {
		return nil, fmt.Errorf("repackage %s: %w", SimulationDir, err)
	}
	if b.Synthesis, err = Pack(ctx, filepath.Join(root, SynthesisDir)); err != nil {
		return nil, fmt.Errorf("repackage %s: %w", SynthesisDir, err)
	}
	if b.Scoring, err = readScoring(filepath.Join(root, ConfigDir)); err != nil {
		return nil, err
	}
	return b, nil
}

func extract(ctx context.Context, archive []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	// Insecure names are rejected per entry below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: not a zip archive: %v", ErrMalformedBundle, err)
	}

	var written int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("%w: entry %q escapes the archive root", ErrMalformedBundle, f.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		n, err := extractFile(f, target, maxExtractBytes-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrMalformedBundle, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, fmt.Errorf("%w: read %s: %v", ErrMalformedBundle, f.Name, err)
	}
	if n > budget {
		return n, fmt.Errorf("%w: archive expands beyond %d bytes", ErrMalformedBundle, int64(maxExtractBytes))
	}
	return n, nil
}

// locateRoot tolerates archives that wrap everything in one top-level folder.
func locateRoot(dir string) (string, error) {
	if isDir(filepath.Join(dir, SimulationDir)) || isDir(filepath.Join(dir, SynthesisDir)) {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read scratch dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "__MACOSX" {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(dir, dirs[0]), nil
	}
	return dir, nil
}

// Pack zips the contents of dir with paths relative to dir.
func Pack(ctx context.Context, dir string) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readScoring(dir string) (*scoring.Document, error) {
	for _, name := range scoringFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s/%s: %w", ConfigDir, name, err)
		}
		doc, err := scoring.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", ConfigDir, name, err)
		}
		return doc, nil
	}
	return nil, nil
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
