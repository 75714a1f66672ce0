package sceneid

import "strings"

// Normalize canonicalizes scene names so they are safe as file name prefixes
// for logs and checkpoints.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, normalized)
	for strings.Contains(normalized, "--") {
		normalized = strings.ReplaceAll(normalized, "--", "-")
	}
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	return trimSceneAffixes(normalized)
}

// trimSceneAffixes drops the "scene-" prefix and "-scene" suffix that scene
// asset names commonly carry.
func trimSceneAffixes(value string) string {
	trimmed := strings.TrimPrefix(value, "scene-")
	trimmed = strings.TrimSuffix(trimmed, "-scene")
	if trimmed == "" {
		return value
	}
	return trimmed
}
