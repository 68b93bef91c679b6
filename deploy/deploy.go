// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deploy implements the zip-based deployment flow: extracting an
// archive into a versioned workdir, locating its entrypoint executable,
// and optionally launching it — spec.md's ArchiveDeployer (C1).
package deploy

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"svcsupervisor/process"
)

// Errors returned by Deployer methods. They are wrapped, not swallowed —
// the controller classifies Extract and FindExeFile failures as
// ExtractionError and Parse failures as ConfigError, per spec.md §7.
var (
	ErrUnknownOption  = errors.New("deploy: unknown option")
	ErrNoEntrypoint   = errors.New("deploy: no entrypoint executable found")
	ErrAmbiguousEntry = errors.New("deploy: ambiguous entrypoint, more than one candidate")
)

// nativeExtensions lists executable suffixes FindExeFile treats as
// "native binaries" on top of the managed-runtime extensions (.dll, .jar).
var nativeExtensions = map[string]bool{
	".exe": true,
	"":     true, // extensionless Unix binaries
}

// Deployer extracts an archive, locates its entrypoint, and can launch it
// via a process.Launcher.
type Deployer struct {
	// ExecuteFile overrides entrypoint discovery with an explicit path,
	// set by Parse when the argument list names one.
	ExecuteFile string
	// ArchiveName is used to disambiguate FindExeFile's second policy
	// tier (a single *.dll/*.jar/native binary whose name matches it).
	ArchiveName string
	// ChildArgs holds whatever argv tokens Parse did not consume as
	// deployer-specific switches; these are forwarded to the launched
	// entrypoint.
	ChildArgs []string

	logger   *log.Logger
	lastErr  string
	launcher *process.Launcher
}

// NewDeployer returns a Deployer that logs through l (nil falls back to
// log.Default()) and launches via the given process.Launcher.
func NewDeployer(l *log.Logger, launcher *process.Launcher) *Deployer {
	if l == nil {
		l = log.Default()
	}
	return &Deployer{logger: l, launcher: launcher}
}

// Parse extracts deployer-specific switches from argv (currently just
// "-exe <path>" to set ExecuteFile explicitly); every other token, dashed
// or not, is retained in ChildArgs and forwarded to the launched
// entrypoint unexamined — those are the child application's own flags,
// not the deployer's.
func (d *Deployer) Parse(archiveName string, argv []string) error {
	d.ArchiveName = archiveNameStem(archiveName)
	remaining := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "-exe":
			if i+1 >= len(argv) {
				return fmt.Errorf("%w: -exe requires a value", ErrUnknownOption)
			}
			d.ExecuteFile = argv[i+1]
			i++
		default:
			remaining = append(remaining, argv[i])
		}
	}
	d.ChildArgs = remaining
	return nil
}

func archiveNameStem(archivePath string) string {
	base := filepath.Base(archivePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// versionedSubdir derives a stable, content-addressed subdirectory name
// for extracting archivePath under workDir, so repeated deploys of a
// byte-identical archive are idempotent and distinguishable ones land in
// distinct directories.
func versionedSubdir(archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Extract unpacks archivePath into workDir/<versioned-subdir>, returning
// the resolved extraction directory. Outside the overwrite globs, files
// that already exist with a newer mtime than their archive entry are left
// untouched (treated as user-modified) — spec.md §4.1.
func (d *Deployer) Extract(archivePath, workDir string, overwrite []string) (string, error) {
	sub, err := versionedSubdir(archivePath)
	if err != nil {
		return "", fmt.Errorf("deploy: hashing %s: %w", archivePath, err)
	}
	dest := filepath.Join(workDir, sub)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("deploy: mkdir %s: %w", dest, err)
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("deploy: open zip %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := d.extractOne(f, dest, overwrite); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func (d *Deployer) extractOne(f *zip.File, dest string, overwrite []string) error {
	target := filepath.Join(dest, f.Name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return fmt.Errorf("deploy: zip entry %q escapes destination", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	mustOverwrite := matchesAny(overwrite, f.Name)
	if !mustOverwrite {
		if info, err := os.Stat(target); err == nil {
			if info.ModTime().After(f.Modified) {
				d.logger.Printf("deploy: preserving user-modified %s (newer than archive entry)", target)
				return nil
			}
		}
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("deploy: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return fmt.Errorf("deploy: create %s: %w", target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("deploy: write %s: %w", target, err)
	}
	return os.Chtimes(target, time.Now(), f.Modified)
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
	}
	return false
}

// FindExeFile locates the entrypoint within workDir, per spec.md §4.1's
// ordered policy: an explicit ExecuteFile, then a single dll/jar/native
// binary whose name matches ArchiveName, then the sole executable in the
// workdir root.
func (d *Deployer) FindExeFile(workDir string) (string, error) {
	if d.ExecuteFile != "" {
		candidate := d.ExecuteFile
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(workDir, candidate)
		}
		if _, err := os.Stat(candidate); err != nil {
			return "", fmt.Errorf("%w: explicit ExecuteFile %s: %v", ErrNoEntrypoint, candidate, err)
		}
		return candidate, nil
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", fmt.Errorf("deploy: read %s: %w", workDir, err)
	}

	if d.ArchiveName != "" {
		var named []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if (ext == ".dll" || ext == ".jar" || nativeExtensions[ext]) && strings.EqualFold(stem, d.ArchiveName) {
				named = append(named, e.Name())
			}
		}
		if len(named) == 1 {
			return filepath.Join(workDir, named[0]), nil
		}
		if len(named) > 1 {
			sort.Strings(named)
			return "", fmt.Errorf("%w: %v", ErrAmbiguousEntry, named)
		}
	}

	var executables []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isExecutableCandidate(e.Name()) {
			executables = append(executables, e.Name())
		}
	}
	switch len(executables) {
	case 1:
		return filepath.Join(workDir, executables[0]), nil
	case 0:
		return "", ErrNoEntrypoint
	default:
		sort.Strings(executables)
		return "", fmt.Errorf("%w: %v", ErrAmbiguousEntry, executables)
	}
}

func isExecutableCandidate(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".dll", ".jar", ".exe":
		return true
	case "":
		return !strings.HasPrefix(name, ".")
	default:
		return false
	}
}

// LastError returns the captured stderr tail from the most recent Execute
// call made in debug (stdio-capturing) mode.
func (d *Deployer) LastError() string {
	return d.lastErr
}

// Execute launches the discovered entrypoint via the deployer's
// process.Launcher, waiting up to startWaitMs for it to exit. It succeeds
// if the process is still alive at the deadline, or exited with code 0;
// any other outcome is a failure, per spec.md §4.1.
func (d *Deployer) Execute(ctx context.Context, entryFile, workDir string, startWaitMs int, debug bool) (*process.Handle, error) {
	exe, prefixArgs := process.ResolveRuntime(entryFile)
	h, err := d.launcher.Launch(ctx, process.Options{
		FileName:     exe,
		Arguments:    append(prefixArgs, d.ChildArgs...),
		WorkingDir:   workDir,
		CaptureStdio: debug,
		Logger:       d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy: launch %s: %w", entryFile, err)
	}

	exited, exitErr := h.ExitedWithin(time.Duration(startWaitMs) * time.Millisecond)
	if !exited {
		return h, nil
	}
	if exitErr == nil {
		return h, nil
	}
	if debug {
		d.lastErr = h.StdioTail()
	}
	return h, fmt.Errorf("deploy: %s exited during start window: %w", entryFile, exitErr)
}
