package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/graphdev/internal/exec"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// Input is one subgraph handed to the composer.
type Input struct {
	Name       string
	RoutingURL string
	SDL        string
}

// Request is a single composition invocation.
type Request struct {
	FederationVersion models.FederationVersion
	Subgraphs         []Input
}

// Result is what the composer returned. Exactly one of SDL or Errors is set.
type Result struct {
	SDL    string
	Hints  []string
	Errors []models.BuildError
}

// Runner invokes the external composition step. An error return means the
// composer could not be run at all, not that composition failed.
type Runner interface {
	Compose(ctx context.Context, req Request) (Result, error)
}

// BinaryRunner runs a supergraph composition binary.
type BinaryRunner struct {
	binary  string
	workDir string
	cmd     exec.CommandRunner
}

// NewBinaryRunner creates a runner for binary, writing its input under workDir.
func NewBinaryRunner(binary, workDir string, cmd exec.CommandRunner) *BinaryRunner {
	if cmd == nil {
		cmd = exec.NewRunner()
	}
	return &BinaryRunner{binary: binary, workDir: workDir, cmd: cmd}
}

var _ Runner = (*BinaryRunner)(nil)

type supergraphConfig struct {
	FederationVersion string                    `yaml:"federation_version,omitempty"`
	Subgraphs         map[string]subgraphConfig `yaml:"subgraphs"`
}

type subgraphConfig struct {
	RoutingURL string       `yaml:"routing_url,omitempty"`
	Schema     schemaConfig `yaml:"schema"`
}

type schemaConfig struct {
	SDL string `yaml:"sdl"`
}

// binaryOutput is the JSON printed by the composition binary.
type binaryOutput struct {
	Ok *struct {
		SupergraphSDL string `json:"supergraphSdl"`
		Hints         []struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"hints"`
	} `json:"Ok"`
	Err []struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Nodes   []struct {
			Subgraph string `json:"subgraph"`
		} `json:"nodes"`
	} `json:"Err"`
}

// Compose writes the supergraph config and runs "<binary> compose <config>".
// A started composition runs to completion even if ctx is cancelled.
func (r *BinaryRunner) Compose(ctx context.Context, req Request) (Result, error) {
	path, err := r.writeConfig(req)
	if err != nil {
		return Result{}, err
	}

	out, runErr := r.cmd.Run(context.WithoutCancel(ctx), r.workDir, r.binary, "compose", path)
	if len(strings.TrimSpace(string(out))) == 0 {
		if runErr != nil {
			return Result{}, fmt.Errorf("run composer: %w", runErr)
		}
		return Result{}, fmt.Errorf("run composer: no output")
	}
	return parseOutput(out)
}

func (r *BinaryRunner) writeConfig(req Request) (string, error) {
	cfg := supergraphConfig{
		FederationVersion: req.FederationVersion.String(),
		Subgraphs:         make(map[string]subgraphConfig, len(req.Subgraphs)),
	}
	for _, sg := range req.Subgraphs {
		cfg.Subgraphs[sg.Name] = subgraphConfig{
			RoutingURL: sg.RoutingURL,
			Schema:     schemaConfig{SDL: sg.SDL},
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode supergraph config: %w", err)
	}

	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return "", fmt.Errorf("create composer workdir: %w", err)
	}
	path := filepath.Join(r.workDir, "supergraph.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write supergraph config: %w", err)
	}
	return path, nil
}

func parseOutput(out []byte) (Result, error) {
	var parsed binaryOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode composer output: %w", err)
	}

	switch {
	case parsed.Ok != nil:
		res := Result{SDL: parsed.Ok.SupergraphSDL}
		for _, h := range parsed.Ok.Hints {
			if h.Code != "" {
				res.Hints = append(res.Hints, "["+h.Code+"] "+h.Message)
			} else {
				res.Hints = append(res.Hints, h.Message)
			}
		}
		return res, nil
	case len(parsed.Err) > 0:
		var res Result
		for _, e := range parsed.Err {
			be := models.BuildError{Message: e.Message, Code: e.Code}
			subgraphs := make([]string, 0, len(e.Nodes))
			for _, n := range e.Nodes {
				if n.Subgraph != "" {
					subgraphs = append(subgraphs, n.Subgraph)
				}
			}
			sort.Strings(subgraphs)
			be.Subgraph = strings.Join(subgraphs, ",")
			res.Errors = append(res.Errors, be)
		}
		return res, nil
	default:
		return Result{}, fmt.Errorf("decode composer output: neither Ok nor Err present")
	}
}
