package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/spack-sub003/internal/resolver"
)

type writer struct {
	format string
}

func newWriter(format string) (*writer, error) {
	switch format {
	case "yaml", "json", "tree":
		return &writer{format: format}, nil
	}
	return nil, fmt.Errorf("invalid output format %q: one of yaml, json or tree", format)
}

func (w *writer) write(out io.Writer, plan resolver.Plan) error {
	var data []byte
	var err error
	switch w.format {
	case "tree":
		for _, r := range plan.Roots {
			if _, err := io.WriteString(out, r.Tree()); err != nil {
				return err
			}
		}
		return nil
	case "json":
		data, err = json.MarshalIndent(plan.Document(), "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(plan.Document())
	}
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = out.Write(data)
	return err
}
