// Package patcher injects the test-harness route into an Angular project's router configuration.
package patcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// HarnessMarker identifies an already injected harness route.
	HarnessMarker = "agent-ivy-harness"

	// HarnessPath is the URL path the harness is served under.
	HarnessPath = "/" + HarnessMarker

	harnessComponent = "AgentIvyHarnessComponent"
)

// conventionalRoutesFile is the standalone-components router file created by ng new.
var conventionalRoutesFile = filepath.Join("src", "app", "app.routes.ts")

// routesArrayPattern matches the opening of a Routes array literal, e.g.
// "export const routes: Routes = [" or "const routes: Routes = [".
var routesArrayPattern = regexp.MustCompile(`(?:export\s+)?(?:const|let|var)\s+\w+\s*:\s*Routes\s*=\s*\[`)

// ErrorKind classifies a ConfigurationError.
type ErrorKind string

const (
	RoutesFileNotFound  ErrorKind = "RoutesFileNotFound"
	RoutesArrayNotFound ErrorKind = "RoutesArrayNotFound"
)

// ConfigurationError reports a project that cannot be patched.
type ConfigurationError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	switch e.Kind {
	case RoutesFileNotFound:
		return fmt.Sprintf("no Angular routes file found under %s", e.Path)
	case RoutesArrayNotFound:
		return fmt.Sprintf("could not find a Routes array in %s", e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("configuration error in %s", e.Path)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Result describes what InjectHarnessRoute did.
type Result struct {
	RoutesFile     string
	AlreadyPatched bool
}

// InjectHarnessRoute adds the harness route to the project's routes file.
// It is a no-op when the marker is already present.
func InjectHarnessRoute(projectRoot string) (Result, error) {
	routesFile, err := FindRoutesFile(projectRoot)
	if err != nil {
		return Result{}, err
	}
	result := Result{RoutesFile: routesFile}

	info, err := os.Stat(routesFile)
	if err != nil {
		return result, fmt.Errorf("failed to stat %s: %w", routesFile, err)
	}
	data, err := os.ReadFile(routesFile)
	if err != nil {
		return result, fmt.Errorf("failed to read %s: %w", routesFile, err)
	}
	content := string(data)

	if strings.Contains(content, HarnessMarker) {
		result.AlreadyPatched = true
		return result, nil
	}

	loc := routesArrayPattern.FindStringIndex(content)
	if loc == nil {
		return result, &ConfigurationError{Kind: RoutesArrayNotFound, Path: routesFile}
	}

	entry, err := routeEntry(projectRoot, routesFile)
	if err != nil {
		return result, err
	}

	patched := content[:loc[1]] + entry + content[loc[1]:]
	if err := os.WriteFile(routesFile, []byte(patched), info.Mode().Perm()); err != nil {
		return result, fmt.Errorf("failed to write %s: %w", routesFile, err)
	}
	return result, nil
}

// FindRoutesFile returns the conventional routes file if present, otherwise the
// first *.routes.ts or *-routing.module.ts found under src/.
func FindRoutesFile(projectRoot string) (string, error) {
	conventional := filepath.Join(projectRoot, conventionalRoutesFile)
	if info, err := os.Stat(conventional); err == nil && !info.IsDir() {
		return conventional, nil
	}

	srcDir := filepath.Join(projectRoot, "src")
	var found string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != srcDir && (name == "node_modules" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if isRoutesFile(d.Name()) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", &ConfigurationError{Kind: RoutesFileNotFound, Path: srcDir, Err: err}
	}
	if found == "" {
		return "", &ConfigurationError{Kind: RoutesFileNotFound, Path: srcDir}
	}
	return found, nil
}

func isRoutesFile(name string) bool {
	return strings.HasSuffix(name, ".routes.ts") || strings.HasSuffix(name, "-routing.module.ts")
}

// routeEntry renders the lazily loaded harness route with an import path
// relative to the routes file.
func routeEntry(projectRoot, routesFile string) (string, error) {
	appDir := filepath.Join(projectRoot, "src", "app")
	rel, err := filepath.Rel(filepath.Dir(routesFile), appDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve harness import path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = "./"
	} else if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel + "/"
	} else {
		rel += "/"
	}

	importPath := rel + HarnessMarker + "/" + HarnessMarker + ".component"
	return fmt.Sprintf("\n  { path: '%s', loadComponent: () => import('%s').then(m => m.%s) },",
		HarnessMarker, importPath, harnessComponent), nil
}
