// Package architecture holds the dependency rules between the packages of
// the module.
package architecture

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const module = "zacharie"

// forbidden lists, per package prefix, the module packages it must not
// import. core only knows the interfaces it is handed; adapters never reach
// back into the command layer.
var forbidden = map[string][]string{
	module + "/pkg/domain": {module + "/internal/", module + "/cmd/"},
	module + "/internal/core": {
		module + "/internal/reconcile",
		module + "/internal/audit",
		module + "/internal/config",
		module + "/internal/infra/notify",
		module + "/internal/blob",
		module + "/internal/metrics",
		module + "/internal/logging",
	},
	module + "/internal/infra/": {module + "/internal/reconcile", module + "/internal/audit", module + "/internal/config"},
	module + "/internal/reconcile": {module + "/internal/infra/", module + "/internal/config"},
	module + "/internal/audit":     {module + "/internal/infra/persistence", module + "/internal/config"},
	module + "/internal/":          {module + "/cmd/"},
}

func loadModule(t *testing.T) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Dir: "../.."}
	pkgs, err := packages.Load(cfg, module+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatal("no packages loaded")
	}
	return pkgs
}

func TestPackageLayering(t *testing.T) {
	for _, pkg := range loadModule(t) {
		for prefix, banned := range forbidden {
			if pkg.PkgPath != prefix && !strings.HasPrefix(pkg.PkgPath, prefix) {
				continue
			}
			for path := range pkg.Imports {
				for _, b := range banned {
					if path == strings.TrimSuffix(b, "/") || strings.HasPrefix(path, b) {
						t.Errorf("%s imports %s", pkg.PkgPath, path)
					}
				}
			}
		}
	}
}

// TestConfigOnlyUsedByCommands keeps configuration parsing at the edge.
func TestConfigOnlyUsedByCommands(t *testing.T) {
	var importers []string
	for _, pkg := range loadModule(t) {
		if _, ok := pkg.Imports[module+"/internal/config"]; ok {
			importers = append(importers, pkg.PkgPath)
		}
	}
	sort.Strings(importers)
	for _, path := range importers {
		if !strings.HasPrefix(path, module+"/cmd/") {
			t.Errorf("%s imports internal/config", path)
		}
	}
}
