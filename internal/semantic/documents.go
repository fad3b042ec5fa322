package semantic

import (
	"strings"

	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/textvec"
)

// Document types. They double as the prefix of a document id.
const (
	TypeProject = "project"
	TypeAPI     = "api"
	TypeTag     = "tag"
)

// Document is the indexable projection of one record.
type Document struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	RecordID string            `json:"recordId"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocumentID returns the index id of the record of type typ.
func DocumentID(typ, recordID string) string { return typ + "-" + recordID }

// BuildDocuments projects records into documents, one per record.
func BuildDocuments(projects []storage.Project, apis []storage.APIRecord, tags []storage.Tag) []Document {
	docs := make([]Document, 0, len(projects)+len(apis)+len(tags))
	for _, p := range projects {
		docs = append(docs, ProjectDocument(p))
	}
	for _, a := range apis {
		docs = append(docs, APIDocument(a))
	}
	for _, t := range tags {
		docs = append(docs, TagDocument(t))
	}
	return docs
}

func ProjectDocument(p storage.Project) Document {
	return Document{
		ID:       DocumentID(TypeProject, p.ID),
		Type:     TypeProject,
		RecordID: p.ID,
		Content:  joinNonEmpty(p.Name, textvec.PlainText(p.Description)),
		Metadata: map[string]string{"name": p.Name, "status": p.Status},
	}
}

func APIDocument(a storage.APIRecord) Document {
	return Document{
		ID:       DocumentID(TypeAPI, a.ID),
		Type:     TypeAPI,
		RecordID: a.ID,
		Content: joinNonEmpty(a.Name, a.Method+" "+a.Path, textvec.PlainText(a.Description),
			a.Parameters, a.Responses),
		Metadata: map[string]string{
			"name":      a.Name,
			"method":    a.Method,
			"path":      a.Path,
			"projectId": a.ProjectID,
		},
	}
}

func TagDocument(t storage.Tag) Document {
	return Document{
		ID:       DocumentID(TypeTag, t.ID),
		Type:     TypeTag,
		RecordID: t.ID,
		Content:  t.Name,
		Metadata: map[string]string{"name": t.Name, "projectId": t.ProjectID},
	}
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
