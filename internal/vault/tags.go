package vault

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// inline #tags; nested tags such as #project/alpha are kept whole
var inlineTag = regexp.MustCompile(`(?:^|[\s(,])#([\p{L}\p{N}_\-/]*[\p{L}_\-/][\p{L}\p{N}_\-/]*)`)

var fenceLine = regexp.MustCompile("(?m)^```.*$")

type frontmatter struct {
	Tags any `yaml:"tags"`
	Tag  any `yaml:"tag"`
}

// splitFrontmatter returns the YAML block of a note, if any, and the body after it.
func splitFrontmatter(src []byte) (meta, body []byte) {
	src = bytes.TrimPrefix(src, []byte("\ufeff"))
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return nil, src
	}
	rest := src[bytes.IndexByte(src, '\n')+1:]
	for off := 0; off <= len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		line := rest[off:]
		if end >= 0 {
			line = rest[off : off+end]
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			if end < 0 {
				return rest[:off], nil
			}
			return rest[:off], rest[off+end+1:]
		}
		if end < 0 {
			break
		}
		off += end + 1
	}
	return nil, src
}

// ExtractTags returns the note's tags in first-seen order, each prefixed with
// '#': frontmatter tags first, then inline tags outside code fences.
func ExtractTags(src []byte) []string {
	meta, body := splitFrontmatter(src)
	var tags []string
	seen := map[string]struct{}{}
	add := func(t string) {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			return
		}
		t = "#" + t
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}

	if meta != nil {
		var fm frontmatter
		if err := yaml.Unmarshal(meta, &fm); err == nil {
			for _, v := range []any{fm.Tags, fm.Tag} {
				for _, t := range flattenTags(v) {
					add(t)
				}
			}
		}
	}

	for i, chunk := range fenceLine.Split(string(body), -1) {
		if i%2 == 1 {
			continue // inside a fenced code block
		}
		for _, m := range inlineTag.FindAllStringSubmatch(chunk, -1) {
			add(m[1])
		}
	}
	return tags
}

func flattenTags(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
