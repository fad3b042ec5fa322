package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Project statuses as stored by the management application.
const (
	StatusActive     = "ACTIVE"
	StatusInactive   = "INACTIVE"
	StatusArchived   = "ARCHIVED"
	StatusDeprecated = "DEPRECATED"
)

// Project is an immutable snapshot of a project row with aggregate counts.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	BaseURL     string        `json:"baseUrl"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Counts      ProjectCounts `json:"counts"`
}

type ProjectCounts struct {
	APIs int `json:"apis"`
	Tags int `json:"tags"`
}

// APIRecord is one documented endpoint. Tags holds tag names.
type APIRecord struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Name        string    `json:"name"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Parameters  string    `json:"parameters,omitempty"`
	Responses   string    `json:"responses,omitempty"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Tag struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Name        string    `json:"name"`
	Color       string    `json:"color,omitempty"`
	APICount    int       `json:"apiCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProjectFilter narrows FindProjects. Zero values mean "no constraint".
type ProjectFilter struct {
	IDs          []string
	Statuses     []string
	UpdatedSince time.Time
	Limit        int
}

type APIFilter struct {
	IDs          []string
	ProjectID    string
	Methods      []string
	Statuses     []string
	UpdatedSince time.Time
	Limit        int
}

type TagFilter struct {
	IDs          []string
	ProjectID    string
	CreatedSince time.Time
	Limit        int
}
