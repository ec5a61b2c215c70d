package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/harshul/agent-ivy/internal/provisioner"
)

// MinAvailableMemory is the free memory below which ng serve tends to be
// killed by the OOM killer on a cold build.
const MinAvailableMemory = 1 << 30

// RuntimeStatus represents the status of a runtime check
type RuntimeStatus struct {
	Name      string
	Installed bool
	Version   string
	Path      string
}

// DependencyStatus represents the status of project dependencies
type DependencyStatus struct {
	Manager          string // npm, yarn, pnpm or bun
	ManagerInstalled bool   // Is the package manager itself installed?
	ManagerHint      string // Hint for installing the package manager
	InstallCommand   string
	ServeCommand     string
	Installed        bool // node_modules present
	AngularCLI       bool // @angular/cli resolvable from the project
}

// MemoryStatus reports host memory headroom
type MemoryStatus struct {
	Total     uint64
	Available uint64
	Known     bool
}

// Diagnosis contains the full health check results
type Diagnosis struct {
	ProjectPath  string
	Runtime      RuntimeStatus
	Dependencies DependencyStatus
	Memory       MemoryStatus
	Validation   provisioner.Validation
	Healthy      bool
	Issues       []string
	Warnings     []string
}

var (
	lookPath   = exec.LookPath
	runVersion = func(name string) (string, error) {
		out, err := exec.Command(name, "--version").Output()
		return strings.TrimSpace(string(out)), err
	}
	virtualMemory = mem.VirtualMemory
)

// Diagnose checks whether the Angular project at projectPath can be served on this host
func Diagnose(projectPath string) Diagnosis {
	diagnosis := Diagnosis{
		ProjectPath: projectPath,
		Healthy:     true,
		Issues:      []string{},
	}

	diagnosis.Validation = provisioner.Validate(projectPath)
	diagnosis.Runtime = checkNodeRuntime()
	diagnosis.Dependencies = checkDependencies(projectPath)
	diagnosis.Memory = checkMemory()

	if !diagnosis.Validation.Valid {
		diagnosis.Healthy = false
		diagnosis.Issues = append(diagnosis.Issues, diagnosis.Validation.Issues...)
	}

	if !diagnosis.Runtime.Installed {
		diagnosis.Healthy = false
		diagnosis.Issues = append(diagnosis.Issues, diagnosis.Runtime.Name+" runtime is not installed")
	}

	// Check if the required package manager is installed
	if !diagnosis.Dependencies.ManagerInstalled {
		diagnosis.Healthy = false
		diagnosis.Issues = append(diagnosis.Issues, diagnosis.Dependencies.ManagerHint)
	}

	// install runs on every start, so these are only warnings
	if !diagnosis.Dependencies.Installed {
		diagnosis.Warnings = append(diagnosis.Warnings, "Dependencies are not installed yet")
	} else if !diagnosis.Dependencies.AngularCLI {
		diagnosis.Warnings = append(diagnosis.Warnings, "@angular/cli is not listed in node_modules")
	}

	if diagnosis.Memory.Known && diagnosis.Memory.Available < MinAvailableMemory {
		diagnosis.Warnings = append(diagnosis.Warnings,
			fmt.Sprintf("Only %d MiB of memory available; ng serve may be killed during the first build", diagnosis.Memory.Available>>20))
	}

	return diagnosis
}

// checkNodeRuntime checks if Node.js is installed
func checkNodeRuntime() RuntimeStatus {
	status := RuntimeStatus{Name: "Node.js"}

	path, err := lookPath("node")
	if err != nil {
		return status
	}
	status.Path = path

	version, err := runVersion("node")
	if err == nil {
		status.Installed = true
		status.Version = version
	}
	return status
}

func checkDependencies(projectPath string) DependencyStatus {
	pm := provisioner.Detect(projectPath)
	check := provisioner.Check(projectPath)

	status := DependencyStatus{
		Manager:          string(pm),
		ManagerInstalled: check.IsAvailable,
		ManagerHint:      check.InstallHint,
		InstallCommand:   provisioner.InstallCommand(projectPath).String(),
		ServeCommand:     provisioner.ServeCommand(projectPath, 4200).String(),
	}

	if info, err := os.Stat(filepath.Join(projectPath, "node_modules")); err == nil && info.IsDir() {
		status.Installed = true
	}
	if _, err := os.Stat(filepath.Join(projectPath, "node_modules", "@angular", "cli", "package.json")); err == nil {
		status.AngularCLI = true
	}

	return status
}

func checkMemory() MemoryStatus {
	vm, err := virtualMemory()
	if err != nil {
		return MemoryStatus{}
	}
	return MemoryStatus{Total: vm.Total, Available: vm.Available, Known: true}
}
