package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/magpie/pkg/manager"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply task manifests from a YAML file",
	Long: `Apply magpie resources from a YAML file. A file may hold several
documents separated by ---.

Example manifest:

  apiVersion: magpie/v1
  kind: Task
  metadata:
    name: nightly-crawl
  spec:
    type: container-crawl
    trigger_mode: auto
    base_url: https://example.com/catalog
    schedule:
      type: daily
      config:
        time: "03:00:00"`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// Resource is one manifest document
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

// ResourceMetadata names a manifest resource
type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	applied := 0
	for {
		var res Resource
		if err := dec.Decode(&res); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		if err := applyResource(&res); err != nil {
			return err
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("no resources found in %s", filename)
	}
	return nil
}

func applyResource(res *Resource) error {
	if res.Kind != "Task" {
		return fmt.Errorf("unsupported kind %q (only Task)", res.Kind)
	}
	if res.Metadata.Name == "" {
		return fmt.Errorf("resource needs metadata.name")
	}

	// The manifest spec maps onto the create request through its JSON
	// form; manifests use the same field names as the API.
	data, err := json.Marshal(res.Spec)
	if err != nil {
		return err
	}
	var req manager.CreateTaskRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid task spec for %s: %w", res.Metadata.Name, err)
	}
	req.Name = res.Metadata.Name

	task, err := apiClient().CreateTask(context.Background(), &req)
	if err != nil {
		return fmt.Errorf("failed to apply task %s: %w", res.Metadata.Name, err)
	}
	fmt.Printf("task/%s created (%s)\n", task.Name, task.ID)
	return nil
}
