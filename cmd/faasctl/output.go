package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/goforj/godump"
	"sigs.k8s.io/yaml"

	"github.com/3s-rg-codes/faasctl/pkg/function"
	"github.com/3s-rg-codes/faasctl/pkg/queue"
	"github.com/3s-rg-codes/faasctl/pkg/status"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
	outputDump = "dump"
)

var outputFormats = []string{outputText, outputJSON, outputYAML, outputDump}

func validOutput(format string) error {
	if slices.Contains(outputFormats, format) {
		return nil
	}
	return fmt.Errorf("unknown output format %q, want one of %s", format, strings.Join(outputFormats, ", "))
}

// printFunctions renders the catalog. displays is optional and keyed by id.
func printFunctions(w io.Writer, defs []function.Definition, displays map[string]status.Display) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if displays == nil {
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSOURCE\tEVENT\tSTATUS\tLOCATION")
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSOURCE\tEVENT\tSTATUS\tREPLICAS\tLOCATION")
	}
	for _, def := range defs {
		if displays == nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				def.ID, def.Name, def.Type, def.Source, def.EventType, def.Status, def.DisplayLocation())
			continue
		}
		d, ok := displays[def.ID]
		if !ok {
			d = status.Display{Status: string(def.Status)}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			def.ID, def.Name, def.Type, def.Source, def.EventType, displayStatus(d), d.Replicas(), def.DisplayLocation())
	}
	return tw.Flush()
}

func displayStatus(d status.Display) string {
	if note := d.Note(); note != "" {
		return fmt.Sprintf("%s (%s)", d.Status, note)
	}
	return d.Status
}

func printDefinition(w io.Writer, def function.Definition, format, gateway, prefix string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(def)
	case outputYAML:
		b, err := yaml.Marshal(def)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case outputDump:
		godump.Fdump(w, def)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("ID", def.ID)
	row("Name", def.Name)
	row("Type", string(def.Type))
	row("Source", string(def.Source))
	row("Location", def.DisplayLocation())
	row("Event", string(def.EventType))
	if def.RedisHost != nil {
		row("Redis host", *def.RedisHost)
	}
	if def.RedisQueueName != nil {
		row("Redis queue", *def.RedisQueueName)
	}
	row("Status", string(def.Status))
	row("URL", def.DeploymentURL(gateway, prefix))
	return tw.Flush()
}

func printDisplay(w io.Writer, name string, d status.Display, depth *queue.Depth) {
	line := fmt.Sprintf("%s  %s  replicas %s", name, displayStatus(d), d.Replicas())
	if depth != nil {
		line += fmt.Sprintf("  queue %s %d", depth.Queue, depth.Length)
	}
	fmt.Fprintf(w, "%s  %s\n", d.ObservedAt.Format("15:04:05"), line)
}

// printFieldErrors lists field errors in a stable order.
func printFieldErrors(w io.Writer, fields map[function.Field]string) {
	for _, f := range slices.Sorted(maps.Keys(fields)) {
		fmt.Fprintf(w, "  %s: %s\n", function.Label(f), fields[f])
	}
}
