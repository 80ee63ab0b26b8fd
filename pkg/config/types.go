package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathList accepts either an array of paths or one comma-separated string.
type PathList []string

func (p *PathList) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		*p = splitPaths(x)
	case []any:
		out := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("log_paths[%d]: expected string, got %T", i, e)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
	default:
		return fmt.Errorf("log_paths: expected string or array, got %T", v)
	}
	return nil
}

func (p *PathList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*p = splitPaths(n.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		out := make([]string, 0, len(list))
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
		return nil
	}
	return fmt.Errorf("log_paths: expected string or list (line %d)", n.Line)
}

func splitPaths(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LooseInt accepts an integer or a numeric string ("7").
type LooseInt int

func (n *LooseInt) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*n = LooseInt(x)
	case string:
		return n.parse(x)
	default:
		return fmt.Errorf("expected integer, got %T", v)
	}
	return nil
}

func (n *LooseInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected integer (line %d)", node.Line)
	}
	return n.parse(node.Value)
}

func (n *LooseInt) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*n = 0
		return nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", s)
	}
	*n = LooseInt(i)
	return nil
}
