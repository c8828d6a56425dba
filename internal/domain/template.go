package domain

import "strings"

// RenderScript substitutes {variable} placeholders in the campaign script
// with task variables. Unresolved placeholders are left verbatim.
func RenderScript(template string, vars map[string]string) string {
	script := template
	for k, v := range vars {
		script = strings.ReplaceAll(script, "{"+k+"}", v)
	}
	return script
}
