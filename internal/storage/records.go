package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// clause accumulates WHERE conditions and their arguments.
type clause struct {
	conds []string
	args  []any
}

func (c *clause) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *clause) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	c.conds = append(c.conds, column+" IN (?"+strings.Repeat(",?", len(values)-1)+")")
	for _, v := range values {
		c.args = append(c.args, v)
	}
}

func (c *clause) String() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

func limitSQL(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// FindProjects returns projects matching f, most recently updated first.
func (s *Store) FindProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	var w clause
	w.in("p.id", f.IDs)
	w.in("p.status", f.Statuses)
	if !f.UpdatedSince.IsZero() {
		w.add("p.updated_at >= ?", formatTime(f.UpdatedSince))
	}

	query := `SELECT p.id, p.name, p.description, p.status, p.base_url, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM apis a WHERE a.project_id = p.id),
			(SELECT COUNT(*) FROM tags t WHERE t.project_id = p.id)
		FROM projects p` + w.String() + ` ORDER BY p.updated_at DESC, p.id ASC` + limitSQL(f.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.BaseURL, &createdAt, &updatedAt,
			&p.Counts.APIs, &p.Counts.Tags); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns one project or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	ps, err := s.FindProjects(ctx, ProjectFilter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return Project{}, err
	}
	if len(ps) == 0 {
		return Project{}, ErrNotFound
	}
	return ps[0], nil
}

// FindAPIs returns endpoints matching f with their project name and tag
// names resolved.
func (s *Store) FindAPIs(ctx context.Context, f APIFilter) ([]APIRecord, error) {
	var w clause
	w.in("a.id", f.IDs)
	if f.ProjectID != "" {
		w.add("a.project_id = ?", f.ProjectID)
	}
	w.in("a.method", f.Methods)
	w.in("a.status", f.Statuses)
	if !f.UpdatedSince.IsZero() {
		w.add("a.updated_at >= ?", formatTime(f.UpdatedSince))
	}

	query := `SELECT a.id, a.project_id, p.name, a.name, a.method, a.path, a.description,
			a.parameters, a.responses, a.status, a.created_at, a.updated_at
		FROM apis a JOIN projects p ON p.id = a.project_id` + w.String() +
		` ORDER BY a.updated_at DESC, a.id ASC` + limitSQL(f.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("querying apis: %w", err)
	}
	defer rows.Close()

	var out []APIRecord
	index := make(map[string]int)
	for rows.Next() {
		var a APIRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ProjectName, &a.Name, &a.Method, &a.Path, &a.Description,
			&a.Parameters, &a.Responses, &a.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning api: %w", err)
		}
		if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		a.Tags = []string{}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}
	if err := s.attachTagNames(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachTagNames(ctx context.Context, apis []APIRecord, index map[string]int) error {
	ids := make([]string, len(apis))
	for i, a := range apis {
		ids[i] = a.ID
	}
	var w clause
	w.in("lt.api_id", ids)

	rows, err := s.db.QueryContext(ctx, `SELECT lt.api_id, t.name
		FROM api_tags lt JOIN tags t ON t.id = lt.tag_id`+w.String()+` ORDER BY t.name ASC`, w.args...)
	if err != nil {
		return fmt.Errorf("querying api tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var apiID, name string
		if err := rows.Scan(&apiID, &name); err != nil {
			return fmt.Errorf("scanning api tag: %w", err)
		}
		if i, ok := index[apiID]; ok {
			apis[i].Tags = append(apis[i].Tags, name)
		}
	}
	return rows.Err()
}

// GetAPI returns one endpoint or ErrNotFound.
func (s *Store) GetAPI(ctx context.Context, id string) (APIRecord, error) {
	as, err := s.FindAPIs(ctx, APIFilter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return APIRecord{}, err
	}
	if len(as) == 0 {
		return APIRecord{}, ErrNotFound
	}
	return as[0], nil
}

// FindTags returns tags matching f ordered by name.
func (s *Store) FindTags(ctx context.Context, f TagFilter) ([]Tag, error) {
	var w clause
	w.in("t.id", f.IDs)
	if f.ProjectID != "" {
		w.add("t.project_id = ?", f.ProjectID)
	}
	if !f.CreatedSince.IsZero() {
		w.add("t.created_at >= ?", formatTime(f.CreatedSince))
	}

	query := `SELECT t.id, t.project_id, p.name, t.name, t.color, t.created_at,
			(SELECT COUNT(*) FROM api_tags lt WHERE lt.tag_id = t.id)
		FROM tags t JOIN projects p ON p.id = t.project_id` + w.String() +
		` ORDER BY t.name ASC, t.id ASC` + limitSQL(f.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.ProjectName, &t.Name, &t.Color, &createdAt, &t.APICount); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Counts reports the number of stored records per kind.
func (s *Store) Counts(ctx context.Context) (projects, apis, tags int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM apis),
		(SELECT COUNT(*) FROM tags)`).Scan(&projects, &apis, &tags)
	if err == sql.ErrNoRows {
		err = nil
	}
	return projects, apis, tags, err
}
