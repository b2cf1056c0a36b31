package blob

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyBlobPackageImportsInfra ensures that only the top-level blob
// package wraps the evidence backends. The ledger core, the evidence service
// and the adapters depend on blob.Store instead of importing infra packages.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	const (
		infraPrefix   = "custodychain/internal/infra/blob"
		allowedPrefix = "custodychain/internal/blob"
	)

	pkgs := loadModulePackages(t)
	var violations []string
	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) || strings.HasPrefix(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if hasPathPrefix(importPath, infraPrefix) {
				violations = append(violations, filepath.Join(pkg.PkgPath, "...")+": "+importPath)
			}
		}
	}
	reportViolations(t, "infra blob", violations)
}

// TestCoreDoesNotImportBlob keeps the custody state machine independent of
// evidence storage; product records only carry the opaque reference.
func TestCoreDoesNotImportBlob(t *testing.T) {
	pkgs := loadModulePackages(t)
	var violations []string
	for _, pkg := range pkgs {
		if !hasPathPrefix(pkg.PkgPath, "custodychain/internal/core") && !hasPathPrefix(pkg.PkgPath, "custodychain/pkg/domain") {
			continue
		}
		for importPath := range pkg.Imports {
			if hasPathPrefix(importPath, "custodychain/internal/blob") || hasPathPrefix(importPath, "custodychain/internal/evidence") {
				violations = append(violations, pkg.PkgPath+": "+importPath)
			}
		}
	}
	reportViolations(t, "evidence storage", violations)
}

func loadModulePackages(t *testing.T) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "custodychain/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	return pkgs
}

func reportViolations(t *testing.T, what string, violations []string) {
	t.Helper()
	if len(violations) == 0 {
		return
	}
	sort.Strings(violations)
	violations = slices.Compact(violations)
	for _, v := range violations {
		t.Errorf("forbidden import of %s package: %s", what, v)
	}
	t.Fatalf("found %d forbidden imports of %s packages", len(violations), what)
}

func hasPathPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
