package net

import (
	"os"
	"path/filepath"
)

// ResolveClientDir returns the directory holding the static client bundle.
// An explicit configured path wins; otherwise the usual checkout layouts are
// probed relative to the working directory and the binary. An empty return
// means no static assets are served, which is fine for headless deployments.
func ResolveClientDir(configured string) string {
	if configured != "" {
		return configured
	}
	cwd, err := os.Getwd()
	if err == nil {
		if dir, ok := resolveClientDirFrom(cwd); ok {
			return dir
		}
	}
	exePath, err := os.Executable()
	if err == nil {
		if dir, ok := resolveClientDirFrom(filepath.Dir(exePath)); ok {
			return dir
		}
	}
	return ""
}

func resolveClientDirFrom(base string) (string, bool) {
	candidates := []string{
		filepath.Join(base, "client"),
		filepath.Join(base, "..", "client"),
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				continue
			}
			return abs, true
		}
	}
	return "", false
}
