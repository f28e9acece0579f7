package transport

import "strings"

// SplitMessage breaks text into segments no longer than limit.
// Blockquote and pre blocks stay intact as their own segments so a
// cited memory or code sample never gets cut mid-tag. Plain text
// splits on paragraph breaks first, then on the last newline or space
// before the limit.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var segments []string
	appendSegment := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			segments = append(segments, s)
		}
	}

	for _, part := range splitBlocks(text) {
		if part.block {
			appendSegment(part.text)
			continue
		}
		var current strings.Builder
		for _, para := range strings.Split(part.text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			if current.Len() > 0 && current.Len()+2+len(para) > limit {
				appendSegment(current.String())
				current.Reset()
			}
			if len(para) > limit {
				if current.Len() > 0 {
					appendSegment(current.String())
					current.Reset()
				}
				for _, chunk := range splitLongText(para, limit) {
					appendSegment(chunk)
				}
				continue
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
		}
		appendSegment(current.String())
	}
	return segments
}

type textPart struct {
	text  string
	block bool
}

// splitBlocks separates <blockquote> and <pre> blocks from the
// surrounding prose.
func splitBlocks(text string) []textPart {
	var parts []textPart
	rest := text
	for {
		start, end := nextBlock(rest)
		if start < 0 {
			break
		}
		if start > 0 {
			parts = append(parts, textPart{text: rest[:start]})
		}
		parts = append(parts, textPart{text: rest[start:end], block: true})
		rest = rest[end:]
	}
	if rest != "" {
		parts = append(parts, textPart{text: rest})
	}
	return parts
}

func nextBlock(text string) (start, end int) {
	start = -1
	for _, name := range []string{"blockquote", "pre"} {
		open := "<" + name + ">"
		idx := strings.Index(text, open)
		if idx < 0 {
			continue
		}
		closeTag := "</" + name + ">"
		closeIdx := strings.Index(text[idx:], closeTag)
		if closeIdx < 0 {
			continue
		}
		if start < 0 || idx < start {
			start = idx
			end = idx + closeIdx + len(closeTag)
		}
	}
	return start, end
}

// splitLongText chops text that has no paragraph breaks, preferring
// the last newline or space before the limit.
func splitLongText(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		cut := strings.LastIndexByte(window, '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(window, ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		chunk := strings.TrimSpace(text[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text = strings.TrimSpace(text); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
