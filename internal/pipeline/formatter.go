package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

const emDashPlaceholder = "—"

// formatResult renders a plugin's result into a markdown reply. A
// handful of well-known plugin names get a dedicated pretty-printer;
// everything else falls back to a formatted JSON dump. The formatter
// never fails — a missing field simply renders as an em-dash.
func formatResult(pluginName string, result interface{}) string {
	fields, isObject := result.(map[string]interface{})

	switch strings.ToLower(pluginName) {
	case "time":
		if isObject {
			return fmt.Sprintf("**Date:** %s\n**Time:** %s",
				field(fields, "date"), field(fields, "time"))
		}
	case "weather":
		if isObject {
			return fmt.Sprintf("**%s:** %s°C, %s",
				field(fields, "city"), field(fields, "temp_c"), field(fields, "description"))
		}
	case "calc":
		if isObject {
			return fmt.Sprintf("**%s** = %s",
				field(fields, "expression"), field(fields, "result_str"))
		}
	case "files":
		if isObject {
			if errMsg := field(fields, "error"); errMsg != emDashPlaceholder {
				return fmt.Sprintf("**%s:** %s", field(fields, "path"), errMsg)
			}
			return fmt.Sprintf("**%s**\n```\n%s\n```", field(fields, "path"), field(fields, "content"))
		}
	}

	return dumpJSON(result)
}

// field looks up key in fields and renders it as a string, falling
// back to an em-dash when the field is absent.
func field(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return emDashPlaceholder
	}
	return fmt.Sprintf("%v", v)
}

// dumpJSON pretty-prints result as a fenced JSON code block. It never
// fails: a marshal error (unrepresentable in standard JSON) falls back
// to Go's %v rendering.
func dumpJSON(result interface{}) string {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("```\n%v\n```", result)
	}
	return fmt.Sprintf("```json\n%s\n```", string(b))
}
