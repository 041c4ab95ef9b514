package wcsp

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ProblemFile is the YAML layout of a problem definition.
//
//	name: example
//	ub: 10            # optional initial upper bound
//	variables:
//	  - {name: x, domain: 2, costs: [0, 3]}
//	  - {name: y, domain: 2}
//	functions:
//	  - scope: [x, y]
//	    default: 0
//	    tuples:
//	      - {values: [0, 1], cost: 5}
//	  - scope: [y]
//	    table: [1, 0]
type ProblemFile struct {
	Name      string         `yaml:"name"`
	Ub        *int64         `yaml:"ub,omitempty"`
	Variables []VariableSpec `yaml:"variables"`
	Functions []FunctionSpec `yaml:"functions"`
}

// VariableSpec declares one variable.
type VariableSpec struct {
	Name   string  `yaml:"name"`
	Domain int     `yaml:"domain"`
	Costs  []int64 `yaml:"costs,omitempty"`
}

// FunctionSpec declares one cost function, either as a full table or as a
// default cost with exceptions.
type FunctionSpec struct {
	Scope   []string    `yaml:"scope"`
	Default int64       `yaml:"default,omitempty"`
	Table   []int64     `yaml:"table,omitempty"`
	Tuples  []TupleSpec `yaml:"tuples,omitempty"`
}

// TupleSpec gives the cost of one tuple. A negative cost stands for MaxCost.
type TupleSpec struct {
	Values []int `yaml:"values"`
	Cost   int64 `yaml:"cost"`
}

func toCost(c int64) Cost {
	if c < 0 || Cost(c) >= MaxCost {
		return MaxCost
	}
	return Cost(c)
}

// LoadProblem reads a YAML problem file.
func LoadProblem(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading problem %s", path)
	}
	n, err := ParseProblem(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "loading problem %s", path)
	}
	return n, nil
}

// ParseProblem decodes a YAML problem definition and builds its network.
// Unknown keys are rejected.
func ParseProblem(r io.Reader) (*Network, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var pf ProblemFile
	if err := dec.Decode(&pf); err != nil {
		return nil, errors.Wrap(err, "decoding problem")
	}
	return pf.Build()
}

// Build creates the network described by the file.
func (pf *ProblemFile) Build() (*Network, error) {
	n := NewNetwork(pf.Name)
	index := make(map[string]int, len(pf.Variables))
	for _, vs := range pf.Variables {
		if _, dup := index[vs.Name]; dup {
			return nil, errors.Wrapf(ErrInvalidProblem, "variable %q declared twice", vs.Name)
		}
		x, err := n.AddVariable(vs.Name, vs.Domain)
		if err != nil {
			return nil, err
		}
		index[vs.Name] = x
		if len(vs.Costs) > 0 {
			costs := make([]Cost, len(vs.Costs))
			for a, c := range vs.Costs {
				costs[a] = toCost(c)
			}
			if err := n.AddUnary(x, costs); err != nil {
				return nil, err
			}
		}
	}
	for i, fs := range pf.Functions {
		scope := make([]int, len(fs.Scope))
		for k, name := range fs.Scope {
			x, ok := index[name]
			if !ok {
				return nil, errors.Wrapf(ErrInvalidProblem, "function %d: unknown variable %q", i, name)
			}
			scope[k] = x
		}
		var err error
		if len(fs.Table) > 0 {
			table := make([]Cost, len(fs.Table))
			for k, c := range fs.Table {
				table[k] = toCost(c)
			}
			_, err = n.AddCostFunction(scope, table)
		} else {
			tuples := make([][]int, len(fs.Tuples))
			costs := make([]Cost, len(fs.Tuples))
			for k, t := range fs.Tuples {
				tuples[k] = t.Values
				costs[k] = toCost(t.Cost)
			}
			_, err = n.AddTuples(scope, toCost(fs.Default), tuples, costs)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "function %d", i)
		}
	}
	if pf.Ub != nil {
		n.SetUb(toCost(*pf.Ub))
	}
	return n, nil
}
