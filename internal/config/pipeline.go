package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
)

// PipelineFile is the deployment description of the processing pipeline.
//
//	self: replica
//	upstream: frontend
//	ignore: [identifier_added, identifier_removed]
//
// An omitted self or upstream takes the default. An omitted ignore list takes
// engine.DefaultIgnoredKinds; an explicit empty list ignores nothing.
type PipelineFile struct {
	Self     string    `yaml:"self" json:"self"`
	Upstream string    `yaml:"upstream" json:"upstream"`
	Ignore   *[]string `yaml:"ignore" json:"ignore"`
}

// PipelineError reports an invalid pipeline file.
type PipelineError struct {
	Path    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *PipelineError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// LoadPipeline reads path and builds the pipeline it describes. The format is
// chosen by extension: .yaml and .yml are YAML, .cue is CUE.
func LoadPipeline(path string) (*engine.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var pf PipelineFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		pf, err = ParsePipelineYAML(data)
	case ".cue":
		pf, err = ParsePipelineCUE(path, data)
	default:
		return nil, &PipelineError{Path: path, Message: fmt.Sprintf("unsupported pipeline file extension %q", ext)}
	}
	if err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}

	p, err := pf.Build()
	if err != nil {
		return nil, &PipelineError{Path: path, Message: err.Error()}
	}
	return p, nil
}

// ParsePipelineYAML decodes a YAML pipeline file. Unknown fields are rejected.
func ParsePipelineYAML(data []byte) (PipelineFile, error) {
	var pf PipelineFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&pf); err != nil {
		return PipelineFile{}, &PipelineError{Message: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	return pf, nil
}

// ParsePipelineCUE evaluates a CUE pipeline file. The file must be concrete
// and may use CUE constraints, for example:
//
//	self:     "search"
//	upstream: "frontend" | "store"
//	upstream: "frontend"
func ParsePipelineCUE(filename string, data []byte) (PipelineFile, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return PipelineFile{}, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return PipelineFile{}, formatCUEError(err)
	}

	it, err := v.Fields()
	if err != nil {
		return PipelineFile{}, formatCUEError(err)
	}
	for it.Next() {
		switch it.Selector().String() {
		case "self", "upstream", "ignore":
		default:
			return PipelineFile{}, &PipelineError{
				Message: fmt.Sprintf("unknown field %q", it.Selector().String()),
				Pos:     it.Value().Pos(),
			}
		}
	}

	var pf PipelineFile
	if err := v.Decode(&pf); err != nil {
		return PipelineFile{}, formatCUEError(err)
	}
	return pf, nil
}

// Build validates the file and constructs the pipeline.
func (pf PipelineFile) Build() (*engine.Pipeline, error) {
	self := ir.ServiceReplica
	if pf.Self != "" {
		s, err := ir.ParseService(pf.Self)
		if err != nil {
			return nil, fmt.Errorf("self: %w", err)
		}
		self = s
	}

	upstream := ir.ServiceFrontend
	if pf.Upstream != "" {
		s, err := ir.ParseService(pf.Upstream)
		if err != nil {
			return nil, fmt.Errorf("upstream: %w", err)
		}
		upstream = s
	}

	ignore := engine.DefaultIgnoredKinds()
	if pf.Ignore != nil {
		ignore = make([]ir.PayloadKind, 0, len(*pf.Ignore))
		for _, raw := range *pf.Ignore {
			k, err := ir.ParsePayloadKind(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("ignore: %w", err)
			}
			ignore = append(ignore, k)
		}
	}

	return engine.NewPipeline(self, upstream, ignore)
}

// formatCUEError converts the first CUE error into a PipelineError with its
// position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &PipelineError{Message: err.Error()}
	}
	first := errs[0]
	pe := &PipelineError{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}
