package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jethrojohnson/flowmake/internal/drm"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// buildPipeline constructs the demonstration graph: an originate task seeds
// a file, a submitted shell command rewrites it, local transforms touch up
// both, and "full" aggregates everything into one runnable target.
func buildPipeline() (*scheduler.Graph, error) {
	g := scheduler.NewGraph()

	tasks := []*scheduler.Task{
		{
			Name:    "hello-one",
			Outputs: []string{"Task01_output_file.txt"},
			Body:    writeGreeting("Hello world ONE"),
		},
		{
			Name:    "hello-two",
			Inputs:  []string{"Task01_output_file.txt"},
			Outputs: []string{"Task02_output_file.txt"},
			Command: "cat ${in1} | sed 's/ONE/TWO/' > ${out1}",
			Resources: drm.ResourceSpec{
				CopyEnvironment: true,
			},
		},
		{
			Name:    "modify-one",
			Inputs:  []string{"Task01_output_file.txt"},
			Outputs: []string{"Task01_output_file_modified.txt"},
			Body:    insertBraveNew,
		},
		{
			Name:    "modify-two",
			Inputs:  []string{"Task02_output_file.txt"},
			Outputs: []string{"Task02_output_file_modified.txt"},
			Body:    insertBraveNew,
		},
		{
			Name:    "full",
			Follows: []string{"hello-one", "hello-two", "modify-one", "modify-two"},
		},
	}
	for _, t := range tasks {
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// writeGreeting returns an originate body writing a single line to its
// output. The line can be overridden with the hello_message parameter.
func writeGreeting(fallback string) scheduler.BodyFunc {
	return func(ctx context.Context, inputs, outputs []string, params map[string]string) error {
		msg := fallback
		if v, ok := params["hello_message"]; ok && v != "" {
			msg = v
		}
		return os.WriteFile(outputs[0], []byte(msg+"\n"), 0o644)
	}
}

// insertBraveNew rewrites "<a> world <b>" as "<a> brave new world <b>".
func insertBraveNew(ctx context.Context, inputs, outputs []string, params map[string]string) error {
	data, err := os.ReadFile(inputs[0])
	if err != nil {
		return err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return fmt.Errorf("unexpected contents in %s: %q", inputs[0], strings.TrimSpace(string(data)))
	}
	line := strings.Join([]string{fields[0], "brave new", fields[1], fields[2]}, " ")
	return os.WriteFile(outputs[0], []byte(line+"\n"), 0o644)
}
