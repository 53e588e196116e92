// Package notes reduces rich-text note fields to the canonical textual form
// the panel stores, renders and hashes. The transform is frozen: the panel
// computes content digests over the same text with an independent
// implementation, so any divergence here silently breaks deduplication.
// Golden files under testdata/golden pin the exact output byte for byte.
package notes

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Sentinel tokens the editor wraps around code regions. They survive the
// rich-text round trip even when structural tags do not.
const (
	codeMarkerStart = "⟦CODE⟧"
	codeMarkerEnd   = "⟦/CODE⟧"
)

// qtBoilerplate is the style fragment Qt's rich-text serializer injects.
const qtBoilerplate = "p, li { white-space: pre-wrap; }"

var (
	// Canonical-form detection
	fencedCodeRe    = regexp.MustCompile("```" + `[\s\S]*?` + "```")
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)

	// Embedded images; anchor hrefs carry the full-resolution payload
	anchorImageRe = regexp.MustCompile(`(?i)<a\s+[^>]*href=["']?(data:image/[^"'>\s]+)["']?[^>]*>`)
	inlineImageRe = regexp.MustCompile(`(?i)<img\s+[^>]*src=["']?(data:image/[^"'>\s]+)["']?[^>]*>`)

	// Code regions
	codeRegionRe   = regexp.MustCompile(codeMarkerStart + `([\s\S]*?)` + codeMarkerEnd)
	preCodeRe      = regexp.MustCompile(`(?i)<pre([^>]*)>\s*<code[^>]*>([\s\S]*?)</code>\s*</pre>`)
	dataLanguageRe = regexp.MustCompile(`(?i)data-language=["'](\w+)["']`)

	// Markup-to-text conversion
	lineBreakRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphRe    = regexp.MustCompile(`(?i)</p>\s*<p[^>]*>`)
	divisionRe     = regexp.MustCompile(`(?i)</div>\s*<div[^>]*>`)
	adjacentTagsRe = regexp.MustCompile(`>\s*<`)
	anyTagRe       = regexp.MustCompile(`<[^>]+>`)

	// Cleanup
	imageWordRe = regexp.MustCompile(`(?i)\bimage\b\s*`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// Canonicalize reduces a rich-text note field to its canonical form. It is
// pure and total: any input produces some output, identical input produces
// identical output, and already-canonical text passes through unchanged
// apart from editor boilerplate removal.
func Canonicalize(raw string) string {
	if raw == "" {
		return ""
	}

	// Text that already carries fenced code, markdown images or image
	// markers came out of this transform (or was written as markdown by
	// hand). Re-deriving it from scratch would mangle it.
	if alreadyCanonical(raw) {
		return strings.TrimSpace(strings.ReplaceAll(raw, qtBoilerplate, ""))
	}

	images := extractImages(raw)

	// Pull code regions out before generic tag stripping so their content
	// is not mangled; placeholders hold their position until the end.
	var blocks []string
	text := codeRegionRe.ReplaceAllStringFunc(raw, func(m string) string {
		inner := codeRegionRe.FindStringSubmatch(m)[1]
		placeholder := fmt.Sprintf("__CODE_BLOCK_%d__", len(blocks))
		blocks = append(blocks, "```\n"+markupToText(inner)+"\n```")
		return placeholder
	})
	text = preCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := preCodeRe.FindStringSubmatch(m)
		lang := ""
		if lm := dataLanguageRe.FindStringSubmatch(sub[1]); lm != nil {
			lang = lm[1]
		}
		placeholder := fmt.Sprintf("__CODE_BLOCK_%d__", len(blocks))
		blocks = append(blocks, "```"+lang+"\n"+markupToText(sub[2])+"\n```")
		return placeholder
	})

	text = markupToText(text)
	text = strings.ReplaceAll(text, qtBoilerplate, "")
	// Drop the "image" link text Qt leaves behind for image anchors
	text = imageWordRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	for i, block := range blocks {
		placeholder := fmt.Sprintf("__CODE_BLOCK_%d__", i)
		text = strings.ReplaceAll(text, placeholder, "\n\n"+block+"\n\n")
	}

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	for _, uri := range images {
		text += "\n\n{{IMAGE:" + uri + "}}"
	}
	return strings.TrimSpace(text)
}

func alreadyCanonical(s string) bool {
	return fencedCodeRe.MatchString(s) ||
		markdownImageRe.MatchString(s) ||
		strings.Contains(s, "[image:data:image/") ||
		strings.Contains(s, "{{IMAGE:data:image/")
}

// extractImages returns embedded data-uri payloads in order of first
// appearance, duplicates removed by exact payload match. Anchors are
// scanned before img tags because Qt duplicates each image as a thumbnail
// img inside a full-resolution anchor.
func extractImages(markup string) []string {
	var images []string
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{anchorImageRe, inlineImageRe} {
		for _, m := range re.FindAllStringSubmatch(markup, -1) {
			if uri := m[1]; !seen[uri] {
				seen[uri] = true
				images = append(images, uri)
			}
		}
	}
	return images
}

// markupToText converts structural markup to newlines, strips the remaining
// tags and decodes entity escapes. Break conversion must happen before tag
// stripping or line structure is lost.
func markupToText(markup string) string {
	s := lineBreakRe.ReplaceAllString(markup, "\n")
	s = paragraphRe.ReplaceAllString(s, "\n")
	s = divisionRe.ReplaceAllString(s, "\n")
	// Keep a space between adjacent elements so words do not fuse
	s = adjacentTagsRe.ReplaceAllString(s, "> <")
	s = anyTagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

// PrepareResults returns a copy of a submission document with every
// results.<version>.<test>.notes field canonicalized. Everything else,
// including fields this client does not know about, passes through
// untouched.
func PrepareResults(payload []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse submission document: %w", err)
	}
	rawResults, ok := doc["results"]
	if !ok {
		return payload, nil
	}

	var versions map[string]json.RawMessage
	if err := json.Unmarshal(rawResults, &versions); err != nil {
		// Not an object; leave the document alone like any other field.
		return payload, nil
	}
	for vid, rawSet := range versions {
		var tests map[string]json.RawMessage
		if err := json.Unmarshal(rawSet, &tests); err != nil {
			continue
		}
		changed := false
		for key, rawTest := range tests {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(rawTest, &fields); err != nil {
				continue
			}
			rawNotes, ok := fields["notes"]
			if !ok {
				continue
			}
			var noteText string
			if err := json.Unmarshal(rawNotes, &noteText); err != nil {
				continue
			}
			cleaned, err := json.Marshal(Canonicalize(noteText))
			if err != nil {
				return nil, err
			}
			fields["notes"] = cleaned
			packed, err := json.Marshal(fields)
			if err != nil {
				return nil, err
			}
			tests[key] = packed
			changed = true
		}
		if changed {
			packed, err := json.Marshal(tests)
			if err != nil {
				return nil, err
			}
			versions[vid] = packed
		}
	}

	packed, err := json.Marshal(versions)
	if err != nil {
		return nil, err
	}
	doc["results"] = packed
	return json.Marshal(doc)
}
