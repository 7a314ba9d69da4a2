package testrunner

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

// Supported framework names.
const (
	FrameworkGo     = "go"
	FrameworkPytest = "pytest"
	FrameworkJest   = "jest"
	FrameworkVitest = "vitest"
	FrameworkMocha  = "mocha"
)

// Service implements controller.TestAdapter.
type Service struct {
	logger *zap.Logger

	mu        sync.Mutex
	installed map[string]bool
}

// NewService creates a test runner service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:    logger,
		installed: make(map[string]bool),
	}
}

// Discover detects the test framework and collects test files. An empty plan
// (no framework or no test files) is a valid result, not an error.
func (s *Service) Discover(ctx context.Context, workdir string) (*controller.TestPlan, error) {
	framework := DetectFramework(workdir)
	if framework == "" {
		s.logger.Debug("no test framework detected", zap.String("workdir", workdir))
		return &controller.TestPlan{}, nil
	}

	files := discoverTestFiles(workdir, framework)
	s.logger.Debug("discovered tests",
		zap.String("framework", framework),
		zap.Int("files", len(files)),
	)
	return &controller.TestPlan{Framework: framework, TestFiles: files}, nil
}

// DetectFramework scans for framework signals. Go repos are checked first
// (go.mod plus at least one _test.go file), then pytest config files and
// test_*.py conventions, then package.json dependencies with vitest checked
// before jest since vitest repos often carry jest as a transitive dep.
func DetectFramework(workdir string) string {
	if fileExists(filepath.Join(workdir, "go.mod")) && anyFile(workdir, func(path string) bool {
		return strings.HasSuffix(path, "_test.go")
	}) {
		return FrameworkGo
	}

	if fileExists(filepath.Join(workdir, "pytest.ini")) ||
		fileExists(filepath.Join(workdir, "setup.cfg")) ||
		anyFile(workdir, isPytestFile) {
		return FrameworkPytest
	}

	pkg, err := readPackageJSON(filepath.Join(workdir, "package.json"))
	if err != nil || pkg == nil {
		return ""
	}
	deps := map[string]struct{}{}
	for name := range pkg.Dependencies {
		deps[name] = struct{}{}
	}
	for name := range pkg.DevDependencies {
		deps[name] = struct{}{}
	}
	testScript := pkg.Scripts["test"]

	if _, ok := deps["vitest"]; ok || strings.Contains(testScript, "vitest") {
		return FrameworkVitest
	}
	if _, ok := deps["jest"]; ok || strings.Contains(testScript, "jest") {
		return FrameworkJest
	}
	if _, ok := deps["mocha"]; ok {
		return FrameworkMocha
	}
	return ""
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSON(path string) (*packageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		// Malformed package.json means no framework can be detected.
		return nil, err
	}
	return &pkg, nil
}

// discoverTestFiles collects test files by framework conventions, as
// relative paths.
func discoverTestFiles(workdir, framework string) []string {
	var files []string
	collect := func(match func(string) bool) {
		walkFiles(workdir, func(path string) {
			if match(path) {
				if rel, err := filepath.Rel(workdir, path); err == nil {
					files = append(files, rel)
				}
			}
		})
	}

	switch framework {
	case FrameworkGo:
		collect(func(p string) bool { return strings.HasSuffix(p, "_test.go") })
	case FrameworkPytest:
		collect(isPytestFile)
	case FrameworkJest, FrameworkVitest, FrameworkMocha:
		collect(func(p string) bool {
			base := filepath.Base(p)
			if !hasJSExt(base) {
				return false
			}
			return strings.Contains(base, ".test.") ||
				strings.Contains(base, ".spec.") ||
				strings.Contains(filepath.ToSlash(p), "/__tests__/")
		})
	}
	return files
}

func isPytestFile(path string) bool {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".py") {
		return false
	}
	return strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py") ||
		base == "tests.py"
}

func hasJSExt(name string) bool {
	for _, ext := range []string{".js", ".ts", ".jsx", ".tsx"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func walkFiles(root string, fn func(path string)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		fn(path)
		return nil
	})
}

func anyFile(root string, match func(string) bool) bool {
	found := false
	walkFiles(root, func(path string) {
		if match(path) {
			found = true
		}
	})
	return found
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
