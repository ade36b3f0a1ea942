package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// RuntimeFileResolver finds helper files (Graphab wrapper scripts,
// command templates) in a colon separated search path, then the working
// directory, EtcDir and the directory of the executable.
type RuntimeFileResolver struct {
	SearchDirs []string
	fileLookup map[string]string
}

func NewRuntimeFileResolver(searchPath string) *RuntimeFileResolver {
	resolver := &RuntimeFileResolver{
		fileLookup: make(map[string]string),
	}

	for _, dir := range strings.Split(searchPath, ":") {
		dir = strings.TrimSpace(dir)
		if len(dir) == 0 {
			continue
		}
		resolver.SearchDirs = append(resolver.SearchDirs, dir)
	}

	cwd, err := os.Getwd()
	if err == nil {
		resolver.SearchDirs = append(resolver.SearchDirs, cwd)
	} else {
		log.Warnf("Failed to get CWD: %v", err)
	}

	resolver.SearchDirs = append(resolver.SearchDirs, EtcDir)

	if exe, err := os.Executable(); err == nil {
		resolver.SearchDirs = append(resolver.SearchDirs, filepath.Dir(exe))
	}
	return resolver
}

// Resolve returns the first existing match for filePath. Absolute paths
// are only checked for existence.
func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		return filePath, checkFile(filePath)
	}

	for _, dir := range r.SearchDirs {
		candidate := filepath.Clean(filepath.Join(dir, filePath))
		if checkFile(candidate) == nil {
			return candidate, nil
		}
	}

	return filePath, fmt.Errorf("failed to resolve %v in %v", filePath, r.SearchDirs)
}

// Lookup resolves filePath once and caches the result.
func (r *RuntimeFileResolver) Lookup(filePath string) (string, error) {
	if resolved, found := r.fileLookup[filePath]; found {
		return resolved, nil
	}

	resolved, err := r.Resolve(filePath)
	if err != nil {
		return "", err
	}
	r.fileLookup[filePath] = resolved
	return resolved, nil
}

// LookupExecutable resolves like Lookup and falls back to PATH for bare
// command names.
func (r *RuntimeFileResolver) LookupExecutable(name string) (string, error) {
	resolved, err := r.Lookup(name)
	if err == nil {
		return resolved, nil
	}
	if !strings.ContainsRune(name, os.PathSeparator) {
		if onPath, pathErr := exec.LookPath(name); pathErr == nil {
			return onPath, nil
		}
	}
	return "", err
}

func checkFile(filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	return nil
}
