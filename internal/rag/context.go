package rag

import (
	"slices"
	"sort"
	"strings"

	"github.com/kalambet/devsearch/internal/storage"
)

// Context is an endpoint as the ranking layer sees it, with the ids of
// related endpoints in the same project.
type Context struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Parameters  string   `json:"parameters,omitempty"`
	Responses   string   `json:"responses,omitempty"`
	ProjectID   string   `json:"projectId"`
	ProjectName string   `json:"projectName"`
	Tags        []string `json:"tags"`
	RelatedIDs  []string `json:"relatedIds,omitempty"`

	// text is the lower-cased searchable text keyword matching runs on.
	text string
}

func contextFrom(a storage.APIRecord) Context {
	c := Context{
		ID:          a.ID,
		Name:        a.Name,
		Method:      strings.ToUpper(a.Method),
		Path:        a.Path,
		Description: a.Description,
		Parameters:  a.Parameters,
		Responses:   a.Responses,
		ProjectID:   a.ProjectID,
		ProjectName: a.ProjectName,
		Tags:        a.Tags,
	}
	parts := append([]string{c.Name, c.Path, c.Description, c.Parameters, c.Responses}, c.Tags...)
	c.text = strings.ToLower(strings.Join(parts, " "))
	return c
}

const (
	maxRelated        = 5
	relatedPathCutoff = 0.3
	tagOverlapWeight  = 0.2
)

// PathSimilarity is the share of aligned path segments that are equal or
// are both parameters, over the longer path.
func PathSimilarity(a, b string) float64 {
	sa, sb := segments(a), segments(b)
	longest := max(len(sa), len(sb))
	if longest == 0 {
		return 0
	}
	var same int
	for i := range min(len(sa), len(sb)) {
		if sa[i] == sb[i] || (isParam(sa[i]) && isParam(sb[i])) {
			same++
		}
	}
	return float64(same) / float64(longest)
}

func segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") || strings.HasPrefix(seg, ":")
}

func tagOverlap(a, b []string) int {
	var n int
	for _, t := range a {
		if slices.Contains(b, t) {
			n++
		}
	}
	return n
}

// affinity scores how closely other relates to c.
func affinity(c, other Context) float64 {
	return PathSimilarity(c.Path, other.Path) + tagOverlapWeight*float64(tagOverlap(c.Tags, other.Tags))
}

// linkRelated fills RelatedIDs of every context with up to five endpoints of
// the same project that share a path shape or a tag.
func linkRelated(contexts []Context) {
	byProject := make(map[string][]int)
	for i, c := range contexts {
		byProject[c.ProjectID] = append(byProject[c.ProjectID], i)
	}

	type scored struct {
		id    string
		score float64
	}
	for i := range contexts {
		c := contexts[i]
		var cands []scored
		for _, j := range byProject[c.ProjectID] {
			o := contexts[j]
			if o.ID == c.ID {
				continue
			}
			if PathSimilarity(c.Path, o.Path) <= relatedPathCutoff && tagOverlap(c.Tags, o.Tags) == 0 {
				continue
			}
			cands = append(cands, scored{id: o.ID, score: affinity(c, o)})
		}
		sort.SliceStable(cands, func(a, b int) bool {
			if cands[a].score != cands[b].score {
				return cands[a].score > cands[b].score
			}
			return cands[a].id < cands[b].id
		})
		related := make([]string, 0, min(len(cands), maxRelated))
		for _, s := range cands[:min(len(cands), maxRelated)] {
			related = append(related, s.id)
		}
		contexts[i].RelatedIDs = related
	}
}
