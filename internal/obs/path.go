package obs

import "strings"

// CanonicalPath collapses id segments so metric labels stay low-cardinality.
// Routes live under a version prefix; the prefix is preserved in the label.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	prefix := ""
	if parts[0] == "v1" {
		prefix = "/v1"
		parts = parts[1:]
	}
	switch {
	case len(parts) == 2 && parts[0] == "signals":
		return prefix + "/signals/:id"
	case len(parts) == 3 && parts[0] == "signals" && parts[2] == "notes":
		return prefix + "/signals/:id/notes"
	case len(parts) == 2 && parts[0] == "approvals":
		return prefix + "/approvals/:id"
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "roles":
		return prefix + "/users/:id/roles"
	}
	return path
}
