// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package ops wires the IR-MAD and RADCAL steps into operators which can be
// chained into sequences and stored as JSON job files.
package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/radcal"
)

// An execution context for operators
type Context struct {
	Log           *logrus.Logger
	MemoryMB      int    // memory.TotalMemory()/1024/1024
	BlockMemoryMB int    // memory for block reads, MemoryMB*7/10 unless configured
	MaxThreads    int    `json:"maxThreads"`
	PIFFile       string // last PIF file written, input for radcal steps without their own
	Reports       []*radcal.Report
}

// NewContext creates a context logging to log. A positive blockMemoryMB
// overrides the default of 70% of physical memory.
func NewContext(log *logrus.Logger, blockMemoryMB int) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	if blockMemoryMB <= 0 {
		blockMemoryMB = memoryMB * 7 / 10
	}
	return &Context{
		Log:           log,
		MemoryMB:      memoryMB,
		BlockMemoryMB: blockMemoryMB,
		MaxThreads:    runtime.GOMAXPROCS(0),
	}
}

// LogSystemInfo logs CPU and memory details at debug level
func (c *Context) LogSystemInfo() {
	c.Log.Debugf("CPU %s, %d physical and %d logical cores, AVX2 %v, GOMAXPROCS %d",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2(), c.MaxThreads)
	c.Log.Debugf("%d MiB physical memory, %d MiB for block reads", c.MemoryMB, c.BlockMemoryMB)
}

// maxRowsPerBlock bounds block reads even with plenty of memory
const maxRowsPerBlock = 1024

// RowsPerBlock returns how many scanlines of width pixels and the given
// number of bands per image fit into the block memory. Each pixel is held as
// raw band values and as a sample row, for both images.
func (c *Context) RowsPerBlock(width, bands int) int {
	bytesPerRow := int64(width) * int64(bands) * 2 * 8 * 2
	if bytesPerRow <= 0 {
		return 1
	}
	rows := int64(c.BlockMemoryMB) * 1024 * 1024 / bytesPerRow
	if rows < 1 {
		return 1
	}
	if rows > maxRowsPerBlock {
		return maxRowsPerBlock
	}
	return int(rows)
}

// A processing step: reads its inputs from files, writes its outputs to files
type Operator interface {
	GetType() string
	IsActive() bool
	Apply(c *Context) error
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Applies a sequence of operators in order, stopping at the first error
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}

	op.Steps = nil
	for _, raw := range op.StepsRaw {
		var step OpBase
		if err := json.Unmarshal(raw, &step); err != nil {
			return err
		}

		factory := GetOperatorFactory(step.Type)
		if factory == nil {
			return errors.Errorf("unknown operator type '%s' in raw JSON message '%s'", step.Type, string(raw))
		}
		i := factory()
		if err := json.Unmarshal(raw, i); err != nil {
			return errors.Wrapf(err, "decoding %s operator", step.Type)
		}
		op.Steps = append(op.Steps, i)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	if op.Steps == nil {
		buf.WriteString("[]")
	} else {
		inner, err = json.Marshal(op.Steps)
		if err != nil {
			return nil, err
		}
		buf.Write(inner)
	}
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) Apply(c *Context) error {
	for i, step := range op.Steps {
		if !step.IsActive() {
			c.Log.Debugf("skipping inactive step %d (%s)", i+1, step.GetType())
			continue
		}
		c.Log.Infof("step %d of %d: %s", i+1, len(op.Steps), step.GetType())
		if err := step.Apply(c); err != nil {
			return errors.Wrapf(err, "step %d (%s)", i+1, step.GetType())
		}
	}
	return nil
}

// Loads a job from JSON. The top level object is a single operator, usually a sequence.
func LoadJob(data []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, errors.Wrap(err, "decoding job")
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, errors.Errorf("unknown operator type '%s' in job", base.Type)
	}
	op := factory()
	if err := json.Unmarshal(data, op); err != nil {
		return nil, errors.Wrapf(err, "decoding %s job", base.Type)
	}
	return op, nil
}
