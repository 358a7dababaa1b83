package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// render writes v as JSON when --json or --jq is set and otherwise calls
// pretty for the human-readable form.
func render(c *cli.Context, v any, pretty func()) error {
	if filters := c.StringSlice("jq"); len(filters) > 0 {
		results, err := applyJQ(v, filters)
		if err != nil {
			return err
		}
		for _, r := range results {
			if err := writeJQResult(c.App.Writer, r); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, v)
	}
	pretty()
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJQResult prints strings raw, like jq -r, and everything else as JSON.
func writeJQResult(w io.Writer, v any) error {
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	return outputJSON(w, v)
}

// applyJQ runs filters as a pipeline over the JSON form of v: every output
// of one filter is fed to the next.
func applyJQ(v any, filters []string) ([]any, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	// gojq only understands the generic JSON value types.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	values := []any{generic}
	for i, code := range codes {
		var next []any
		for _, in := range values {
			iter := code.Run(in)
			for {
				out, ok := iter.Next()
				if !ok {
					break
				}
				if err, isErr := out.(error); isErr {
					return nil, fmt.Errorf("jq filter %q: %w", filters[i], err)
				}
				next = append(next, out)
			}
		}
		values = next
	}
	return values, nil
}
