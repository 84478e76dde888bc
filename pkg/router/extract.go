package router

import (
	"regexp"
	"strings"
)

// Built-in extractors for the shipped skill profiles. Extraction is
// best-effort: a profile whose extractor finds nothing still routes.

var (
	tokenRe   = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9]*)`)
	addressRe = regexp.MustCompile(`0x[0-9a-fA-F]{6,64}`)
	amountRe  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// ExtractTokens pulls $SYMBOL tokens out of the text, uppercased and
// comma-joined under the "tokens" key.
func ExtractTokens(text string) map[string]string {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		sym := strings.ToUpper(m[1])
		if seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	return map[string]string{"tokens": strings.Join(symbols, ",")}
}

// ExtractQuery returns the text trailing the first occurrence of any trigger
// word under the "query" key. Used by the research profile.
func ExtractQuery(triggers ...string) Extractor {
	return func(text string) map[string]string {
		lowered := strings.ToLower(text)
		for _, trigger := range triggers {
			idx := strings.Index(lowered, trigger)
			if idx < 0 {
				continue
			}
			query := strings.TrimSpace(text[idx+len(trigger):])
			if query == "" {
				continue
			}
			return map[string]string{"query": query}
		}
		return nil
	}
}

// ExtractAddresses pulls hex contract/wallet addresses under "addresses".
func ExtractAddresses(text string) map[string]string {
	matches := addressRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	return map[string]string{"addresses": strings.Join(matches, ",")}
}

// ExtractAmounts pulls numeric amounts under "amounts".
func ExtractAmounts(text string) map[string]string {
	matches := amountRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	return map[string]string{"amounts": strings.Join(matches, ",")}
}
