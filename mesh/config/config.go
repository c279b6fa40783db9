// Package config parses the block-sectioned input file format named in
// the mesh package's design: a <mesh> section, a <time> section, a
// <meshblock> section, and zero or more <refinementN> sections.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/fluxmesh/meshcore"
)

// Input is the raw decoded form of an input file, before validation.
type Input struct {
	Mesh struct {
		Nx1, Nx2, Nx3                int
		X1Min, X1Max                 float64
		X2Min, X2Max                 float64
		X3Min, X3Max                 float64
		X1Rat, X2Rat, X3Rat          float64
		Ix1BC, Ox1BC                 string
		Ix2BC, Ox2BC                 string
		Ix3BC, Ox3BC                 string
		NumThreads                   int
		Refinement                   string
		NumLevel                     int
	}
	Time struct {
		StartTime float64
		Tlim      float64
		CFLNumber float64
		Nlim      int
	}
	MeshBlock struct {
		Nx1, Nx2, Nx3 int
	}
	Refinements []RefinementBlock
}

// RefinementBlock is one decoded <refinementN> section.
type RefinementBlock struct {
	X1Min, X1Max float64
	X2Min, X2Max float64
	X3Min, X3Max float64
	Level        int
}

var boundaryTags = map[string]mesh.BoundaryTag{
	"reflecting": mesh.BoundaryReflecting,
	"outflow":    mesh.BoundaryOutflow,
	"periodic":   mesh.BoundaryPeriodic,
	"user":       mesh.BoundaryUser,
	"polar":      mesh.BoundaryPolar,
}

// Load reads and decodes an input file at path. ini.v1 is used rather than
// the standard library's flag/text parsing because the <refinementN>
// sections are unboundedly numbered and ini.v1's section enumeration
// handles that without a bespoke line scanner.
func Load(path string) (*Input, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, &mesh.IOError{Op: "load input file " + path, Err: err}
	}
	in := &Input{}

	meshSec := cfg.Section("mesh")
	in.Mesh.Nx1 = meshSec.Key("nx1").MustInt(0)
	in.Mesh.Nx2 = meshSec.Key("nx2").MustInt(1)
	in.Mesh.Nx3 = meshSec.Key("nx3").MustInt(1)
	in.Mesh.X1Min = meshSec.Key("x1min").MustFloat64(0)
	in.Mesh.X1Max = meshSec.Key("x1max").MustFloat64(1)
	in.Mesh.X2Min = meshSec.Key("x2min").MustFloat64(0)
	in.Mesh.X2Max = meshSec.Key("x2max").MustFloat64(1)
	in.Mesh.X3Min = meshSec.Key("x3min").MustFloat64(0)
	in.Mesh.X3Max = meshSec.Key("x3max").MustFloat64(1)
	in.Mesh.X1Rat = meshSec.Key("x1rat").MustFloat64(1.0)
	in.Mesh.X2Rat = meshSec.Key("x2rat").MustFloat64(1.0)
	in.Mesh.X3Rat = meshSec.Key("x3rat").MustFloat64(1.0)
	in.Mesh.Ix1BC = meshSec.Key("ix1_bc").MustString("outflow")
	in.Mesh.Ox1BC = meshSec.Key("ox1_bc").MustString("outflow")
	in.Mesh.Ix2BC = meshSec.Key("ix2_bc").MustString("outflow")
	in.Mesh.Ox2BC = meshSec.Key("ox2_bc").MustString("outflow")
	in.Mesh.Ix3BC = meshSec.Key("ix3_bc").MustString("outflow")
	in.Mesh.Ox3BC = meshSec.Key("ox3_bc").MustString("outflow")
	in.Mesh.NumThreads = meshSec.Key("num_threads").MustInt(1)
	in.Mesh.Refinement = meshSec.Key("refinement").MustString("none")
	in.Mesh.NumLevel = meshSec.Key("numlevel").MustInt(1)

	timeSec := cfg.Section("time")
	in.Time.StartTime = timeSec.Key("start_time").MustFloat64(0)
	in.Time.Tlim = timeSec.Key("tlim").MustFloat64(1)
	in.Time.CFLNumber = timeSec.Key("cfl_number").MustFloat64(0.3)
	in.Time.Nlim = timeSec.Key("nlim").MustInt(-1)

	blockSec := cfg.Section("meshblock")
	in.MeshBlock.Nx1 = blockSec.Key("nx1").MustInt(in.Mesh.Nx1)
	in.MeshBlock.Nx2 = blockSec.Key("nx2").MustInt(in.Mesh.Nx2)
	in.MeshBlock.Nx3 = blockSec.Key("nx3").MustInt(in.Mesh.Nx3)

	for i := 1; ; i++ {
		name := fmt.Sprintf("refinement%d", i)
		if !cfg.HasSection(name) {
			break
		}
		sec := cfg.Section(name)
		in.Refinements = append(in.Refinements, RefinementBlock{
			X1Min: sec.Key("x1min").MustFloat64(in.Mesh.X1Min),
			X1Max: sec.Key("x1max").MustFloat64(in.Mesh.X1Max),
			X2Min: sec.Key("x2min").MustFloat64(in.Mesh.X2Min),
			X2Max: sec.Key("x2max").MustFloat64(in.Mesh.X2Max),
			X3Min: sec.Key("x3min").MustFloat64(in.Mesh.X3Min),
			X3Max: sec.Key("x3max").MustFloat64(in.Mesh.X3Max),
			Level: sec.Key("level").MustInt(1),
		})
	}
	return in, nil
}

// Validate converts the raw decoded input into mesh.MeshInput/mesh.TimeInput,
// resolving boundary tag names and rejecting unknown ones with a
// mesh.ConfigError.
func (in *Input) Validate() (mesh.MeshInput, mesh.TimeInput, error) {
	bc := func(name string) (mesh.BoundaryTag, error) {
		tag, ok := boundaryTags[name]
		if !ok {
			return 0, &mesh.ConfigError{Msg: "unknown boundary condition name: " + name}
		}
		return tag, nil
	}

	var bcs mesh.BoundaryTags
	var err error
	if bcs[mesh.FaceInnerX1], err = bc(in.Mesh.Ix1BC); err != nil {
		return mesh.MeshInput{}, mesh.TimeInput{}, err
	}
	if bcs[mesh.FaceOuterX1], err = bc(in.Mesh.Ox1BC); err != nil {
		return mesh.MeshInput{}, mesh.TimeInput{}, err
	}
	if in.Mesh.Nx2 > 1 {
		if bcs[mesh.FaceInnerX2], err = bc(in.Mesh.Ix2BC); err != nil {
			return mesh.MeshInput{}, mesh.TimeInput{}, err
		}
		if bcs[mesh.FaceOuterX2], err = bc(in.Mesh.Ox2BC); err != nil {
			return mesh.MeshInput{}, mesh.TimeInput{}, err
		}
	}
	if in.Mesh.Nx3 > 1 {
		if bcs[mesh.FaceInnerX3], err = bc(in.Mesh.Ix3BC); err != nil {
			return mesh.MeshInput{}, mesh.TimeInput{}, err
		}
		if bcs[mesh.FaceOuterX3], err = bc(in.Mesh.Ox3BC); err != nil {
			return mesh.MeshInput{}, mesh.TimeInput{}, err
		}
	}

	regions := make([]mesh.RefinementRegion, len(in.Refinements))
	for i, r := range in.Refinements {
		regions[i] = mesh.RefinementRegion{
			X1Min: r.X1Min, X1Max: r.X1Max,
			X2Min: r.X2Min, X2Max: r.X2Max,
			X3Min: r.X3Min, X3Max: r.X3Max,
			Level: r.Level,
		}
	}

	mi := mesh.MeshInput{
		Size: mesh.RegionSize{
			X1Min: in.Mesh.X1Min, X1Max: in.Mesh.X1Max,
			X2Min: in.Mesh.X2Min, X2Max: in.Mesh.X2Max,
			X3Min: in.Mesh.X3Min, X3Max: in.Mesh.X3Max,
			Nx1: in.Mesh.Nx1, Nx2: in.Mesh.Nx2, Nx3: in.Mesh.Nx3,
			X1Rat: in.Mesh.X1Rat, X2Rat: in.Mesh.X2Rat, X3Rat: in.Mesh.X3Rat,
		},
		BCs:        bcs,
		NumThreads: in.Mesh.NumThreads,
		BlockNx1:   in.MeshBlock.Nx1, BlockNx2: in.MeshBlock.Nx2, BlockNx3: in.MeshBlock.Nx3,
		Refinement: in.Mesh.Refinement,
		MaxLevel:   in.Mesh.NumLevel,
		Regions:    regions,
	}
	ti := mesh.TimeInput{
		StartTime: in.Time.StartTime,
		Tlim:      in.Time.Tlim,
		CFLNumber: in.Time.CFLNumber,
		Nlim:      in.Time.Nlim,
	}
	return mi, ti, nil
}
