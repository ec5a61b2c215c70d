package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubHost(t *testing.T, nodeInstalled bool, available uint64) {
	t.Helper()
	origLook, origVersion, origMem := lookPath, runVersion, virtualMemory
	t.Cleanup(func() {
		lookPath, runVersion, virtualMemory = origLook, origVersion, origMem
	})

	lookPath = func(name string) (string, error) {
		if !nodeInstalled {
			return "", errors.New("not found")
		}
		return "/usr/local/bin/" + name, nil
	}
	runVersion = func(string) (string, error) { return "v20.11.0", nil }
	virtualMemory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 16 << 30, Available: available}, nil
	}
}

func angularProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"demo"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "angular.json"), []byte(`{}`), 0o644))
	return dir
}

func TestDiagnoseNodeRuntime(t *testing.T) {
	stubHost(t, true, 8<<30)

	d := Diagnose(angularProject(t))

	assert.True(t, d.Runtime.Installed)
	assert.Equal(t, "v20.11.0", d.Runtime.Version)
	assert.Equal(t, "/usr/local/bin/node", d.Runtime.Path)
	assert.True(t, d.Validation.Valid)
	assert.Equal(t, "npm", d.Dependencies.Manager)
	assert.Equal(t, "npm install", d.Dependencies.InstallCommand)
	assert.Equal(t, "npx ng serve --port 4200 --host 0.0.0.0", d.Dependencies.ServeCommand)
}

func TestDiagnoseMissingNode(t *testing.T) {
	stubHost(t, false, 8<<30)

	d := Diagnose(angularProject(t))

	assert.False(t, d.Healthy)
	assert.False(t, d.Runtime.Installed)
	assert.Contains(t, d.Issues, "Node.js runtime is not installed")
}

func TestDiagnoseInvalidProject(t *testing.T) {
	stubHost(t, true, 8<<30)

	d := Diagnose(t.TempDir())

	assert.False(t, d.Healthy)
	assert.False(t, d.Validation.Valid)
	assert.NotEmpty(t, d.Issues)
}

func TestDiagnoseDependencyWarnings(t *testing.T) {
	stubHost(t, true, 8<<30)
	dir := angularProject(t)

	d := Diagnose(dir)
	assert.Contains(t, d.Warnings, "Dependencies are not installed yet")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "@angular", "cli"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "@angular", "cli", "package.json"), []byte(`{}`), 0o644))

	d = Diagnose(dir)
	assert.True(t, d.Dependencies.Installed)
	assert.True(t, d.Dependencies.AngularCLI)
	assert.Empty(t, d.Warnings)
}

func TestDiagnoseLowMemory(t *testing.T) {
	stubHost(t, true, 512<<20)

	d := Diagnose(angularProject(t))

	require.True(t, d.Memory.Known)
	assert.Equal(t, uint64(512<<20), d.Memory.Available)
	assert.Contains(t, d.Warnings, "Only 512 MiB of memory available; ng serve may be killed during the first build")
}
