package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joaooservit/oserv-cloud-storage/internal"
)

// scriptDocument is a list of shell commands run in one session.
//
//	version: 1
//	dest: ./downloads
//	steps:
//	  - cd: /Projects
//	  - upload: [./report.pdf, ./data]
//	  - download: Q1
//	  - ls
type scriptDocument struct {
	Version         int          `json:"version" yaml:"version"`
	Dest            string       `json:"dest" yaml:"dest"`
	ContinueOnError bool         `json:"continue_on_error" yaml:"continue_on_error"`
	Steps           []scriptStep `json:"steps" yaml:"steps"`
}

// scriptStep is either a bare command line ("ls", "cd Projects") or a
// single-key mapping from a command to one or more arguments.
type scriptStep struct {
	Command string
	Args    stringList
}

type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var value string
		if err := node.Decode(&value); err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			*s = nil
		} else {
			*s = []string{value}
		}
		return nil
	case yaml.SequenceNode:
		var result []string
		for _, child := range node.Content {
			var item string
			if err := child.Decode(&item); err != nil {
				return err
			}
			item = strings.TrimSpace(item)
			if item != "" {
				result = append(result, item)
			}
		}
		*s = result
		return nil
	default:
		return fmt.Errorf("unsupported YAML type for string list")
	}
}

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			*s = nil
		} else {
			*s = []string{value}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	*s = list
	return nil
}

func (st *scriptStep) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var line string
		if err := node.Decode(&line); err != nil {
			return err
		}
		st.Command, st.Args = splitStep(line)
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: a step maps exactly one command", node.Line)
		}
		if err := node.Content[0].Decode(&st.Command); err != nil {
			return err
		}
		st.Command = strings.TrimSpace(st.Command)
		if node.Content[1].Tag == "!!null" {
			return nil
		}
		return node.Content[1].Decode(&st.Args)
	default:
		return fmt.Errorf("line %d: unsupported step", node.Line)
	}
}

func (st *scriptStep) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var line string
		if err := json.Unmarshal(data, &line); err != nil {
			return err
		}
		st.Command, st.Args = splitStep(line)
		return nil
	}
	var m map[string]stringList
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("a step maps exactly one command, got %d", len(m))
	}
	for k, v := range m {
		st.Command, st.Args = strings.TrimSpace(k), v
	}
	return nil
}

func splitStep(line string) (string, stringList) {
	name, arg := splitLine(line)
	if arg == "" {
		return name, nil
	}
	return name, stringList{arg}
}

func loadScriptDocument(path string) (*scriptDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}
	format := strings.ToLower(filepath.Ext(path))
	if format != ".yaml" && format != ".yml" && format != ".json" {
		format = ".yaml"
	}
	doc, err := decodeScriptDocument(data, format)
	if err != nil {
		return nil, err
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported script version %d", doc.Version)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeScriptDocument(data []byte, format string) (*scriptDocument, error) {
	var doc scriptDocument
	switch format {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse script file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse script file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown script format %q", format)
	}
	return &doc, nil
}

func (doc *scriptDocument) validate() error {
	if len(doc.Steps) == 0 {
		return fmt.Errorf("script has no steps")
	}
	for i, st := range doc.Steps {
		c, ok := lookupCommand(st.Command)
		if !ok {
			return fmt.Errorf("steps[%d]: unknown command %q", i, st.Command)
		}
		if c.needArg && len(st.Args) == 0 {
			return fmt.Errorf("steps[%d]: %s needs an argument", i, c.name)
		}
	}
	return nil
}

// lines expands every step into the command lines the shell would accept.
// A step with several arguments runs once per argument.
func (doc *scriptDocument) lines() []string {
	var out []string
	for _, st := range doc.Steps {
		if len(st.Args) == 0 {
			out = append(out, st.Command)
			continue
		}
		for _, a := range st.Args {
			out = append(out, st.Command+" "+a)
		}
	}
	return out
}

// runScript executes the document's lines in order. It stops at the first
// failing line unless continue_on_error is set; authentication failures
// always stop it.
func (s *Session) runScript(ctx context.Context, doc *scriptDocument) error {
	if doc.Dest != "" {
		s.DownloadDir = doc.Dest
	}
	var failed int
	for i, line := range doc.lines() {
		s.printer.Println(fmt.Sprintf("[%d] %s", i+1, line))
		err := s.Exec(ctx, line)
		if err == nil {
			continue
		}
		if errors.Is(err, errQuit) {
			break
		}
		failed++
		if fatal(ctx, err) || !doc.ContinueOnError {
			return fmt.Errorf("script stopped at step %d: %w", i+1, err)
		}
		internal.Warn("script step failed, continuing", internal.WithError(internal.Fields{
			internal.FieldMsg: line,
		}, err))
	}
	if failed > 0 {
		return fmt.Errorf("%d script step(s) failed", failed)
	}
	return nil
}

func RunScriptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.yaml|script.json>",
		Short: "Run a list of shell commands from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadScriptDocument(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			return s.runScript(cmd.Context(), doc)
		},
	}
}
