package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// readDocument loads a request document from path, or stdin for "-", and
// returns it as JSON.  YAML is accepted by extension or when the content is
// not JSON.
func readDocument(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return nil, errors.Validation("a request file is required").WithDetail("field=file")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Validationf("cannot read %s", path).WithCause(err).WithDetail("field=file")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.Validationf("%s is empty", path).WithDetail("field=file")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && json.Valid(data) {
		return data, nil
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Validationf("%s is neither JSON nor YAML", path).WithCause(err).WithDetail(err.Error())
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Validationf("%s cannot be expressed as JSON", path).WithCause(err).WithDetail(err.Error())
	}
	return out, nil
}

// withType sets the top-level "type" key of a JSON object document.
func withType(doc []byte, problemType string) ([]byte, error) {
	if problemType == "" {
		return doc, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, errors.Validation("request document must be a JSON object").WithCause(err).WithDetail("field=file")
	}
	t, _ := json.Marshal(problemType)
	obj["type"] = t
	return json.Marshal(obj)
}

// parseAssignments turns repeated key=value flags into a map.  Values are
// read as numbers or booleans when they parse, otherwise as strings.
func parseAssignments(flag string, pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Validationf("--%s expects key=value, got %q", flag, p).WithDetail("field=" + flag)
		}
		out[k] = parseScalar(strings.TrimSpace(v))
	}
	return out, nil
}

func parseScalar(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

//Personal.AI order the ending
