// Package scheduler decomposes a specification document into ordered,
// parallelizable implementation chunks and seeds tracker issues for them.
package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Chunk is one implementation chunk extracted from a specification.
type Chunk struct {
	Index              int
	Title              string
	Description        string
	Estimate           string
	Tasks              []string
	Deliverables       []string
	AcceptanceCriteria []string
	// DependsOn lists the chunk indices this chunk waits for. Populated by
	// explicit mentions in the chunk body, defaulting to the immediate
	// predecessor when none are stated.
	DependsOn []int
	Raw       string
}

// Spec is a parsed specification document.
type Spec struct {
	ProjectName string
	Chunks      []Chunk
}

var (
	titleRe       = regexp.MustCompile(`(?m)^#\s+(.+?):`)
	sectionRe     = regexp.MustCompile(`(?mi)^##\s+\d+\.\s+Implementation Chunks.*$`)
	nextSectionRe = regexp.MustCompile(`(?m)^##\s+\d+\.`)
	chunkRe       = regexp.MustCompile(`(?m)^##\s+Chunk\s+(\d+):\s+(.+?)(?:\s+\(Day\s+(.+?)\))?\s*$`)
	subsectionRe  = regexp.MustCompile(`(?m)^###\s+`)
	numberedRe    = regexp.MustCompile(`(?m)^\d+\.\s+(.+?)\s*$`)
	bulletRe      = regexp.MustCompile(`(?m)^[-*]\s+(.+?)\s*$`)

	// Equal-precedence phrasings for an explicit dependency mention.
	depRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)depends?\s+on\s+chunk\s+(\d+)`),
		regexp.MustCompile(`(?i)requires?\s+chunk\s+(\d+)`),
		regexp.MustCompile(`(?i)after\s+chunk\s+(\d+)`),
		regexp.MustCompile(`(?i)builds?\s+on\s+chunk\s+(\d+)`),
	}
)

// Parse extracts the implementation chunks from a markdown specification.
// The document must contain a numbered "Implementation Chunks" section with
// per-chunk "## Chunk N: Title (Day X)" headers.
func Parse(doc string) (*Spec, error) {
	spec := &Spec{ProjectName: "Unknown Project"}
	if m := titleRe.FindStringSubmatch(doc); m != nil {
		spec.ProjectName = strings.TrimSpace(m[1])
	}

	section, err := chunksSection(doc)
	if err != nil {
		return nil, err
	}

	spec.Chunks = parseChunks(section)
	if len(spec.Chunks) == 0 {
		return nil, fmt.Errorf("no chunks found in Implementation Chunks section")
	}
	resolveDependencies(spec.Chunks)
	return spec, nil
}

func chunksSection(doc string) (string, error) {
	loc := sectionRe.FindStringIndex(doc)
	if loc == nil {
		return "", fmt.Errorf("spec has no Implementation Chunks section")
	}
	rest := doc[loc[1]:]
	if next := nextSectionRe.FindStringIndex(rest); next != nil {
		return rest[:next[0]], nil
	}
	return rest, nil
}

func parseChunks(section string) []Chunk {
	headers := chunkRe.FindAllStringSubmatchIndex(section, -1)
	chunks := make([]Chunk, 0, len(headers))

	for i, h := range headers {
		m := chunkRe.FindStringSubmatch(section[h[0]:h[1]])
		index, _ := strconv.Atoi(m[1])

		end := len(section)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := strings.TrimSpace(section[h[1]:end])

		chunk := Chunk{
			Index:    index,
			Title:    strings.TrimSpace(m[2]),
			Estimate: strings.TrimSpace(m[3]),
			Raw:      body,
		}
		chunk.Description = firstParagraph(body)
		chunk.Tasks = matchAll(numberedRe, subsection(body, "Tasks"))
		chunk.Deliverables = matchAll(bulletRe, subsection(body, "Deliverables"))
		chunk.AcceptanceCriteria = matchAll(bulletRe, subsection(body, "Acceptance Criteria"))

		chunks = append(chunks, chunk)
	}
	return chunks
}

func subsection(body, title string) string {
	re := regexp.MustCompile(`(?mi)^###\s+` + regexp.QuoteMeta(title) + `.*$`)
	loc := re.FindStringIndex(body)
	if loc == nil {
		return ""
	}
	rest := body[loc[1]:]
	if next := subsectionRe.FindStringIndex(rest); next != nil {
		return rest[:next[0]]
	}
	return rest
}

func matchAll(re *regexp.Regexp, text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func firstParagraph(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

// resolveDependencies fills DependsOn from explicit mentions, falling back
// to the immediate predecessor.
func resolveDependencies(chunks []Chunk) {
	for i := range chunks {
		deps := explicitDependencies(chunks[i].Raw)
		if len(deps) > 0 {
			chunks[i].DependsOn = deps
			continue
		}
		if i > 0 {
			chunks[i].DependsOn = []int{chunks[i-1].Index}
		}
	}
}

func explicitDependencies(body string) []int {
	seen := map[int]struct{}{}
	var deps []int
	for _, re := range depRes {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				deps = append(deps, n)
			}
		}
	}
	sort.Ints(deps)
	return deps
}
