package repo

import (
	"fmt"

	"github.com/vjranagit/spack-sub003/internal/spec"
)

// BuildSystem tags a package with the variants and build tools its build
// system implies.
type BuildSystem string

const (
	Generic   BuildSystem = "generic"
	Autotools BuildSystem = "autotools"
	CMake     BuildSystem = "cmake"
	Meson     BuildSystem = "meson"
	Python    BuildSystem = "python"
)

// ParseBuildSystem validates raw. An empty value is Generic.
func ParseBuildSystem(raw string) (BuildSystem, error) {
	switch b := BuildSystem(raw); b {
	case "":
		return Generic, nil
	case Generic, Autotools, CMake, Meson, Python:
		return b, nil
	}
	return "", fmt.Errorf("repo: unknown build system %q", raw)
}

type buildTool struct {
	name  string
	types spec.DepTypes
}

// tools lists the packages a build system depends on. A tool is only added
// when the repository defines it.
func (b BuildSystem) tools() []buildTool {
	switch b {
	case Autotools:
		return []buildTool{{"gmake", spec.Build}}
	case CMake:
		return []buildTool{{"cmake", spec.Build}, {"gmake", spec.Build}}
	case Meson:
		return []buildTool{{"meson", spec.Build}, {"ninja", spec.Build}}
	case Python:
		return []buildTool{{"python", spec.Build | spec.Run}}
	}
	return nil
}

func (b BuildSystem) variants() []VariantDef {
	switch b {
	case CMake:
		return []VariantDef{{
			Name:        "build_type",
			Default:     []string{"Release"},
			Values:      []string{"Debug", "MinSizeRel", "RelWithDebInfo", "Release"},
			Description: "CMake build type",
		}}
	case Meson:
		return []VariantDef{{
			Name:        "buildtype",
			Default:     []string{"release"},
			Values:      []string{"debug", "debugoptimized", "minsize", "plain", "release"},
			Description: "Meson build type",
		}}
	}
	return nil
}
