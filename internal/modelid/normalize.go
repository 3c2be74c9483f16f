// Package modelid canonicalizes built-in model names.
package modelid

import "strings"

// Normalize canonicalizes model names and their aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalModelName(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

// aliasCandidates strips an optional "model-" prefix and "-model" suffix.
func aliasCandidates(normalized string) []string {
	candidates := []string{normalized}
	trimmed := strings.Trim(strings.TrimPrefix(normalized, "model-"), "-")
	if trimmed != "" && trimmed != normalized {
		candidates = append(candidates, trimmed)
	}
	if suffixless := strings.TrimSuffix(trimmed, "-model"); suffixless != "" && suffixless != trimmed {
		candidates = append(candidates, suffixless)
	}
	return candidates
}

func canonicalModelName(alias string) (string, bool) {
	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "flippair", "twoflips", "coinpair":
		return "flip-pair", true
	case "oneortwo", "onetwo", "variablelength":
		return "one-or-two", true
	case "geometric", "geom":
		return "geometric", true
	case "gaussianmean", "gaussian", "normalmean":
		return "gaussian-mean", true
	case "dirichletdie", "dirichlet", "die":
		return "dirichlet-die", true
	case "nested", "nestedinference", "nestedmh":
		return "nested", true
	default:
		return "", false
	}
}
