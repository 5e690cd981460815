package orchestrator

import (
	"regexp"
	"strings"
)

// Narrative chunking bounds, in runes. Scenes aim for the target length,
// never exceed the ceiling, and chunks below the minimum are merged into
// a neighbor. The scene count is capped by merging the overflow into the
// final scene.
const (
	sceneTargetLen = 260
	sceneMaxLen    = 360
	sceneMinLen    = 60
	maxScenes      = 12
)

var (
	paragraphSplitRegex = regexp.MustCompile(`\n{2,}|……|\.{6}`)
	sentenceEndRegex    = regexp.MustCompile(`[。！？!?.](?:["」』”]?\s*)`)
)

// SplitNarrativeSections splits a narrative into ordered scene chunks.
// Paragraph and ellipsis boundaries are honored first; a single long
// block falls back to sentence-aware greedy packing. Inputs shorter than
// one scene yield nothing, which keeps short chat messages out of the
// narrative path.
func SplitNarrativeSections(text string) []string {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < sceneMinLen {
		return nil
	}

	var chunks []string
	for _, part := range paragraphSplitRegex.Split(trimmed, -1) {
		part = strings.TrimSpace(part)
		if part != "" {
			chunks = append(chunks, part)
		}
	}

	// One long block: repack by sentence.
	if len(chunks) == 1 && len([]rune(chunks[0])) > sceneMaxLen {
		chunks = packSentences(chunks[0])
	}

	chunks = mergeShortChunks(chunks)
	chunks = capSceneCount(chunks)
	return chunks
}

// packSentences splits text at sentence boundaries and greedily packs
// sentences into chunks near the target length. A single sentence longer
// than the ceiling is hard-cut.
func packSentences(text string) []string {
	sentences := splitSentences(text)

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, sentence := range sentences {
		runes := []rune(sentence)
		for len(runes) > sceneMaxLen {
			if currentLen > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
				currentLen = 0
			}
			chunks = append(chunks, string(runes[:sceneMaxLen]))
			runes = runes[sceneMaxLen:]
		}
		if currentLen > 0 && currentLen+len(runes) > sceneTargetLen {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		current.WriteString(string(runes))
		currentLen += len(runes)
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEndRegex.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		sentences = append(sentences, text[last:])
	}
	return sentences
}

// mergeShortChunks folds chunks below the minimum into their
// predecessor, or successor for a short head.
func mergeShortChunks(chunks []string) []string {
	var out []string
	for _, chunk := range chunks {
		if len(out) > 0 && len([]rune(chunk)) < sceneMinLen {
			out[len(out)-1] += chunk
			continue
		}
		out = append(out, chunk)
	}
	if len(out) >= 2 && len([]rune(out[0])) < sceneMinLen {
		out[1] = out[0] + out[1]
		out = out[1:]
	}
	// Everything merged into one sub-minimum chunk: not narrative-sized.
	if len(out) == 1 && len([]rune(out[0])) < sceneMinLen {
		return nil
	}
	return out
}

// capSceneCount merges overflow beyond maxScenes into the final scene.
func capSceneCount(chunks []string) []string {
	if len(chunks) <= maxScenes {
		return chunks
	}
	capped := make([]string, maxScenes)
	copy(capped, chunks[:maxScenes-1])
	capped[maxScenes-1] = strings.Join(chunks[maxScenes-1:], "")
	return capped
}
