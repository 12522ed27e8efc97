// Package template renders node parameters against the running instance,
// so outreach messages can reference upstream results ("Hi {{ .results.search.name }}").
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// ContextData builds the data a node's parameter templates can reference:
// the instance identity, the data of completed upstream nodes keyed by
// node ID, and environment variables.
func ContextData(userID, instanceID, definitionID string, results map[string]map[string]any) map[string]any {
	return map[string]any{
		"user_id":       userID,
		"instance_id":   instanceID,
		"definition_id": definitionID,
		"results":       results,
		"env":           getEnvVars(),
	}
}

// RenderParameters renders every string leaf of the parameter map that
// contains a template expression. Nested maps and slices are walked;
// non-string leaves pass through untouched.
func RenderParameters(parameters map[string]any, data map[string]any) (map[string]any, error) {
	if len(parameters) == 0 {
		return parameters, nil
	}

	rendered := make(map[string]any, len(parameters))

	for key, value := range parameters {
		result, err := renderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}

		rendered[key] = result
	}

	return rendered, nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch typed := value.(type) {
	case string:
		if !strings.Contains(typed, "{{") {
			return typed, nil
		}

		return Render(typed, data)
	case map[string]any:
		return RenderParameters(typed, data)
	case []any:
		rendered := make([]any, len(typed))

		for i, item := range typed {
			result, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			rendered[i] = result
		}

		return rendered, nil
	default:
		return value, nil
	}
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("parameters").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Try to parse as JSON if it looks like JSON
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	// Try to parse as number
	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	// Try to parse as boolean
	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
