// Command vettrap is a build-time checker, grounded in the teacher's
// own chentry build tool: run it over the intr package before linking
// a kernel image, and it refuses the build if the vector-range
// constants it finds there no longer partition [0, NumVectors) without
// gap or overlap. A hand-edited ExceptionMax/IRQBase/SoftMax drifting
// out of step is exactly the kind of mistake intr.Dispatch has no way
// to catch at runtime, since it trusts ClassifyVector unconditionally.
package main

import (
	"fmt"
	"go/constant"
	"go/types"
	"log"
	"os"

	"golang.org/x/tools/go/packages"
)

const intrImportPath = "intr"

// wantConst names the integer constants vettrap reads out of the intr
// package and checks for a consistent three-way vector partition.
var wantConst = []string{
	"ExceptionBase", "ExceptionMax",
	"IRQBase", "IRQMax",
	"SoftBase", "SoftMax",
	"NumVectors",
}

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedSyntax | packages.NeedDeps,
		Dir:  dir,
	}
	pkgs, err := packages.Load(cfg, intrImportPath)
	if err != nil {
		log.Fatalf("vettrap: loading %s: %v", intrImportPath, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		log.Fatal("vettrap: intr package failed to load")
	}
	if len(pkgs) != 1 {
		log.Fatalf("vettrap: expected exactly one package for %q, got %d", intrImportPath, len(pkgs))
	}

	vals, err := readIntConsts(pkgs[0], wantConst)
	if err != nil {
		log.Fatalf("vettrap: %v", err)
	}

	if err := checkPartition(vals); err != nil {
		log.Fatalf("vettrap: intr vector ranges are inconsistent: %v", err)
	}
	fmt.Printf("vettrap: intr vector ranges [0,%d) partition cleanly across exception/irq/soft\n", vals["NumVectors"])
}

// readIntConsts walks pkg's Scope for each wanted identifier and
// extracts its constant integer value via go/constant, the same
// mechanism go vet itself uses to evaluate untyped consts.
func readIntConsts(pkg *packages.Package, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	scope := pkg.Types.Scope()
	for _, name := range names {
		obj := scope.Lookup(name)
		if obj == nil {
			return nil, fmt.Errorf("intr.%s not found", name)
		}
		c, ok := obj.(*types.Const)
		if !ok {
			return nil, fmt.Errorf("intr.%s is not a constant", name)
		}
		i, exact := constant.Int64Val(c.Val())
		if !exact {
			return nil, fmt.Errorf("intr.%s is not representable as an int64", name)
		}
		out[name] = i
	}
	return out, nil
}

// checkPartition verifies the three vector ranges are contiguous,
// non-overlapping, and together cover exactly [0, NumVectors), mirroring
// the ordering intr.ClassifyVector assumes but never itself verifies.
func checkPartition(v map[string]int64) error {
	type span struct {
		name   string
		lo, hi int64
	}
	spans := []span{
		{"exception", v["ExceptionBase"], v["ExceptionMax"]},
		{"irq", v["IRQBase"], v["IRQMax"]},
		{"soft", v["SoftBase"], v["SoftMax"]},
	}
	want := int64(0)
	for _, s := range spans {
		if s.lo != want {
			return fmt.Errorf("%s range starts at %d, want %d", s.name, s.lo, want)
		}
		if s.hi < s.lo {
			return fmt.Errorf("%s range [%d,%d] is inverted", s.name, s.lo, s.hi)
		}
		want = s.hi + 1
	}
	if want != v["NumVectors"] {
		return fmt.Errorf("ranges cover [0,%d) but NumVectors = %d", want, v["NumVectors"])
	}
	return nil
}
