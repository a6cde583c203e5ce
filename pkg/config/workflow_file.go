// Package config loads workflow definitions from YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowbase/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrEmptyFile = errors.New("workflow file is empty")

// WorkflowFile is the on-disk layout: a single workflow, or a list under
// "workflows".
type WorkflowFile struct {
	Workflows []*models.Workflow `json:"workflows" yaml:"workflows"`
}

// LoadWorkflows reads every workflow in path. Files ending in .json are
// decoded as JSON, anything else as YAML.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	workflows, err := decode(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}

	return workflows, nil
}

func decode(data []byte, isJSON bool) ([]*models.Workflow, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}

	var file WorkflowFile
	if err := unmarshal(data, &file); err != nil {
		return nil, err
	}

	if len(file.Workflows) > 0 {
		return file.Workflows, nil
	}

	var single models.Workflow
	if err := unmarshal(data, &single); err != nil {
		return nil, err
	}

	return []*models.Workflow{&single}, nil
}
