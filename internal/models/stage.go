package models

import "fmt"

// Stage is one step of the five-step generation pipeline.
type Stage string

const (
	StageProjectSetup      Stage = "ProjectSetup"
	StageDomainInput       Stage = "DomainInput"
	StageDomainAnalysis    Stage = "DomainAnalysis"
	StageOpenAPIGeneration Stage = "OpenApiGeneration"
	StageSecuritySpecs     Stage = "SecuritySpecs"
)

// Stages lists the pipeline in order.
var Stages = []Stage{
	StageProjectSetup,
	StageDomainInput,
	StageDomainAnalysis,
	StageOpenAPIGeneration,
	StageSecuritySpecs,
}

// Index returns the position of the stage in the pipeline, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// ParseStage converts a persisted or user supplied value into a Stage.
func ParseStage(value string) (Stage, error) {
	s := Stage(value)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", value)
	}
	return s, nil
}
