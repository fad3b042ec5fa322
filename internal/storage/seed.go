package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by Seed.
type SeedFile struct {
	Projects []SeedProject `yaml:"projects"`
	APIs     []SeedAPI     `yaml:"apis"`
	Tags     []SeedTag     `yaml:"tags"`
}

type SeedProject struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Status      string    `yaml:"status"`
	BaseURL     string    `yaml:"baseUrl"`
	CreatedAt   time.Time `yaml:"createdAt"`
	UpdatedAt   time.Time `yaml:"updatedAt"`
}

type SeedAPI struct {
	ID          string    `yaml:"id"`
	ProjectID   string    `yaml:"projectId"`
	Name        string    `yaml:"name"`
	Method      string    `yaml:"method"`
	Path        string    `yaml:"path"`
	Description string    `yaml:"description"`
	Parameters  string    `yaml:"parameters"`
	Responses   string    `yaml:"responses"`
	Status      string    `yaml:"status"`
	TagIDs      []string  `yaml:"tags"`
	CreatedAt   time.Time `yaml:"createdAt"`
	UpdatedAt   time.Time `yaml:"updatedAt"`
}

type SeedTag struct {
	ID        string    `yaml:"id"`
	ProjectID string    `yaml:"projectId"`
	Name      string    `yaml:"name"`
	Color     string    `yaml:"color"`
	CreatedAt time.Time `yaml:"createdAt"`
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return SeedFile{}, fmt.Errorf("decoding seed file: %w", err)
	}
	return f, nil
}

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Projects int
	APIs     int
	Tags     int
}

// Seed upserts every record in f inside one transaction. Missing
// timestamps default to now; missing statuses to ACTIVE.
func (s *Store) Seed(ctx context.Context, f SeedFile) (SeedResult, error) {
	now := time.Now().UTC()
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return formatTime(now)
		}
		return formatTime(t)
	}
	status := func(v string) string {
		if v == "" {
			return StatusActive
		}
		return strings.ToUpper(v)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	var res SeedResult
	for _, p := range f.Projects {
		if p.ID == "" || p.Name == "" {
			return SeedResult{}, fmt.Errorf("project requires id and name: %+v", p)
		}
		updated := p.UpdatedAt
		if updated.IsZero() {
			updated = p.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, description, status, base_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
				status = excluded.status, base_url = excluded.base_url, updated_at = excluded.updated_at`,
			p.ID, p.Name, p.Description, status(p.Status), p.BaseURL, stamp(p.CreatedAt), stamp(updated),
		); err != nil {
			return SeedResult{}, fmt.Errorf("upserting project %s: %w", p.ID, err)
		}
		res.Projects++
	}

	for _, t := range f.Tags {
		if t.ID == "" || t.ProjectID == "" || t.Name == "" {
			return SeedResult{}, fmt.Errorf("tag requires id, projectId and name: %+v", t)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, project_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name, color = excluded.color`,
			t.ID, t.ProjectID, t.Name, t.Color, stamp(t.CreatedAt),
		); err != nil {
			return SeedResult{}, fmt.Errorf("upserting tag %s: %w", t.ID, err)
		}
		res.Tags++
	}

	for _, a := range f.APIs {
		if a.ID == "" || a.ProjectID == "" || a.Path == "" {
			return SeedResult{}, fmt.Errorf("api requires id, projectId and path: %+v", a)
		}
		method := strings.ToUpper(a.Method)
		if method == "" {
			method = "GET"
		}
		name := a.Name
		if name == "" {
			name = method + " " + a.Path
		}
		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = a.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO apis (id, project_id, name, method, path, description, parameters, responses, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name,
				method = excluded.method, path = excluded.path, description = excluded.description,
				parameters = excluded.parameters, responses = excluded.responses,
				status = excluded.status, updated_at = excluded.updated_at`,
			a.ID, a.ProjectID, name, method, a.Path, a.Description, a.Parameters, a.Responses,
			status(a.Status), stamp(a.CreatedAt), stamp(updated),
		); err != nil {
			return SeedResult{}, fmt.Errorf("upserting api %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM api_tags WHERE api_id = ?`, a.ID); err != nil {
			return SeedResult{}, fmt.Errorf("clearing tags of api %s: %w", a.ID, err)
		}
		for _, tagID := range a.TagIDs {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO api_tags (api_id, tag_id) VALUES (?, ?)`, a.ID, tagID); err != nil {
				return SeedResult{}, fmt.Errorf("linking api %s to tag %s: %w", a.ID, tagID, err)
			}
		}
		res.APIs++
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("committing seed: %w", err)
	}
	return res, nil
}
