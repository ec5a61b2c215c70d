package provisioner

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// PackageManager represents a detected package manager
type PackageManager string

const (
	NPM  PackageManager = "npm"
	Yarn PackageManager = "yarn"
	PNPM PackageManager = "pnpm"
	Bun  PackageManager = "bun"
)

// lockFiles is checked in order; the first lock file present decides the manager.
var lockFiles = []struct {
	name    string
	manager PackageManager
}{
	{"pnpm-lock.yaml", PNPM},
	{"yarn.lock", Yarn},
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"package-lock.json", NPM},
}

// Command is an argument vector for a process. It is never passed through a shell.
type Command struct {
	Name string
	Args []string
}

// String renders the command for display and diagnostics.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Detect inspects the project root and returns the package manager to use.
// Priority: pnpm > yarn > bun > npm lock files, then the "packageManager"
// field of package.json, then npm.
func Detect(projectPath string) PackageManager {
	for _, lf := range lockFiles {
		if fileExists(filepath.Join(projectPath, lf.name)) {
			return lf.manager
		}
	}

	if field := packageManagerField(projectPath); field != "" {
		for _, pm := range []PackageManager{PNPM, Yarn, Bun, NPM} {
			if strings.Contains(field, string(pm)+"@") {
				return pm
			}
		}
	}

	return NPM
}

// packageManagerField reads the corepack "packageManager" field from package.json.
func packageManagerField(projectPath string) string {
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		PackageManager string `json:"packageManager"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.PackageManager
}

// Install returns the dependency install command for the manager.
func (pm PackageManager) Install() Command {
	return Command{Name: string(pm), Args: []string{"install"}}
}

// Exec returns a command that runs a locally installed binary through the manager.
func (pm PackageManager) Exec(args ...string) Command {
	switch pm {
	case Yarn:
		return Command{Name: "yarn", Args: args}
	case PNPM:
		return Command{Name: "pnpm", Args: append([]string{"exec"}, args...)}
	case Bun:
		return Command{Name: "bunx", Args: args}
	default:
		return Command{Name: "npx", Args: args}
	}
}

// Run returns a command that runs a package.json script.
func (pm PackageManager) Run(script string, args ...string) Command {
	return Command{Name: string(pm), Args: append([]string{"run", script}, args...)}
}

// InstallCommand returns the install command for the project's package manager.
func InstallCommand(projectPath string) Command {
	return Detect(projectPath).Install()
}

// ServeCommand returns the ng serve command bound to all interfaces on port.
func ServeCommand(projectPath string, port int) Command {
	return Detect(projectPath).Exec("ng", "serve", "--port", strconv.Itoa(port), "--host", "0.0.0.0")
}

// Validation is the advisory result of inspecting a project root.
type Validation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// Validate checks that the project looks like an Angular workspace.
// The result is advisory: callers continue even when it is not valid.
func Validate(projectPath string) Validation {
	v := Validation{Valid: true, Issues: []string{}}

	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		v.Valid = false
		v.Issues = append(v.Issues, "project directory does not exist: "+projectPath)
		return v
	}

	for _, name := range []string{"package.json", "angular.json"} {
		if !fileExists(filepath.Join(projectPath, name)) {
			v.Valid = false
			v.Issues = append(v.Issues, "missing "+name)
		}
	}

	return v
}

// CheckResult represents the result of checking package manager availability
type CheckResult struct {
	Manager     PackageManager
	IsAvailable bool
	Path        string
	InstallHint string
}

// Check verifies the project's package manager is on PATH.
func Check(projectPath string) CheckResult {
	pm := Detect(projectPath)
	result := CheckResult{Manager: pm}

	path, err := LookPath(string(pm), Environment())
	if err == nil {
		result.IsAvailable = true
		result.Path = path
		return result
	}

	result.InstallHint = InstallHint(pm)
	return result
}

// InstallHint returns the installation hint for a package manager
func InstallHint(pm PackageManager) string {
	switch pm {
	case PNPM:
		return "This project requires pnpm. Please run 'corepack enable pnpm' to continue."
	case Yarn:
		return "This project requires yarn. Please run 'corepack enable yarn' to continue."
	case Bun:
		return "This project requires bun. Please install it from https://bun.sh"
	default:
		return "npm is required. Please install Node.js from https://nodejs.org"
	}
}

// Environment returns the process environment for install and serve commands.
// Angular CLI prompts (analytics, autocompletion) are disabled so nothing blocks on stdin.
func Environment() []string {
	env := os.Environ()
	env = append(env,
		"NG_CLI_ANALYTICS=false",
		"NG_FORCE_TTY=false",
		"NG_DISABLE_VERSION_CHECK=1",
		"CI=true",
	)

	home, err := os.UserHomeDir()
	if err != nil {
		return env
	}

	// Managers installed by their own scripts are often missing from a daemon's PATH.
	var extra []string
	for _, dir := range []string{
		filepath.Join(home, ".bun", "bin"),
		filepath.Join(home, ".local", "share", "pnpm"),
		filepath.Join(home, ".yarn", "bin"),
	} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			extra = append(extra, dir)
		}
	}
	if len(extra) == 0 {
		return env
	}

	for i, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok && isPathKey(k) {
			env[i] = kv + string(os.PathListSeparator) + strings.Join(extra, string(os.PathListSeparator))
			return env
		}
	}
	return append(env, "PATH="+strings.Join(extra, string(os.PathListSeparator)))
}

// LookPath resolves name against the PATH entry of env, the environment the
// command will run with, rather than the current process's PATH.
func LookPath(name string, env []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return exec.LookPath(name)
	}

	path := ""
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && isPathKey(k) {
			path = v
		}
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		for _, candidate := range executableNames(filepath.Join(dir, name)) {
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// isPathKey matches PATH, which Windows spells "Path".
func isPathKey(k string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(k, "PATH")
	}
	return k == "PATH"
}

func executableNames(base string) []string {
	if runtime.GOOS != "windows" {
		return []string{base}
	}
	names := []string{base}
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		names = append(names, base+ext)
	}
	return names
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode().Perm()&0o111 != 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
