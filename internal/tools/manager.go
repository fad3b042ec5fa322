// Package tools is the single entry point every tool invocation passes
// through: arguments are validated, the per-tool rate window is checked,
// cacheable results are served from memory, and every call is counted.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/health"
)

const (
	MinRateLimit = 1
	MaxRateLimit = 10000
	MinCacheTTL  = time.Second
	MaxCacheTTL  = 24 * time.Hour

	DefaultWindow    = time.Minute
	DefaultRateLimit = 100
	DefaultCacheTTL  = 5 * time.Minute
)

// Handler runs one validated call and returns its text output.
type Handler func(ctx context.Context, call *Call) (string, error)

// Typed adapts a handler that takes the concrete argument struct.
func Typed[A any](fn func(ctx context.Context, call *Call, args A) (string, error)) Handler {
	return func(ctx context.Context, call *Call) (string, error) {
		args, ok := call.Args.(A)
		if !ok {
			return "", apperr.Internal(fmt.Sprintf("tool %s received %T arguments", call.Tool, call.Args), nil)
		}
		return fn(ctx, call, args)
	}
}

// Definition registers one tool. Zero RateLimit and CacheTTL take the
// manager defaults.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
	Cacheable   bool
	CacheTTL    time.Duration
	RateLimit   int
}

// Call is what a handler sees of the invocation.
type Call struct {
	Tool      string
	RawArgs   map[string]any
	Args      any
	RequestID string
	StartTime time.Time
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Meta describes how a result was produced.
type Meta struct {
	ExecutionTime time.Duration
	ResultSize    int
	Cached        bool
	RequestID     string
}

func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ExecutionTime float64 `json:"executionTime"`
		ResultSize    int     `json:"resultSize"`
		Cached        bool    `json:"cached"`
		RequestID     string  `json:"requestId,omitempty"`
	}{
		ExecutionTime: float64(m.ExecutionTime.Microseconds()) / 1000,
		ResultSize:    m.ResultSize,
		Cached:        m.Cached,
		RequestID:     m.RequestID,
	})
}

func (m *Meta) UnmarshalJSON(b []byte) error {
	var w struct {
		ExecutionTime float64 `json:"executionTime"`
		ResultSize    int     `json:"resultSize"`
		Cached        bool    `json:"cached"`
		RequestID     string  `json:"requestId"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Meta{
		ExecutionTime: time.Duration(w.ExecutionTime * float64(time.Millisecond)),
		ResultSize:    w.ResultSize,
		Cached:        w.Cached,
		RequestID:     w.RequestID,
	}
	return nil
}

type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
	Meta    Meta      `json:"_meta"`
}

// Text joins the text parts of the result.
func (r *Result) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		b.WriteString(c.Text)
	}
	return b.String()
}

// ErrorResult renders err as an error result carrying the public error body.
func ErrorResult(err error, requestID string) *Result {
	body, _ := json.MarshalIndent(map[string]apperr.Body{"error": apperr.Public(err)}, "", "  ")
	return &Result{
		Content: []Content{{Type: "text", Text: string(body)}},
		IsError: true,
		Meta:    Meta{ResultSize: len(body), RequestID: requestID},
	}
}

type ExecuteOptions struct {
	RequestID     string
	SkipCache     bool
	SkipRateLimit bool
}

// Info is the listing entry of one tool.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"argumentSchema"`
}

type LastError struct {
	Message string    `json:"message"`
	Time    time.Time `json:"timestamp"`
}

// Stats are the call counters of one tool.
type Stats struct {
	Name                 string        `json:"name"`
	TotalCalls           int64         `json:"totalCalls"`
	SuccessfulCalls      int64         `json:"successfulCalls"`
	FailedCalls          int64         `json:"failedCalls"`
	TotalExecutionTime   time.Duration `json:"totalExecutionTimeNs"`
	AverageExecutionTime time.Duration `json:"averageExecutionTimeNs"`
	LastCalled           time.Time     `json:"lastCalled,omitzero"`
	LastError            *LastError    `json:"lastError,omitempty"`
}

type window struct {
	count   int
	resetAt time.Time
}

type cacheEntry struct {
	content   []Content
	size      int
	expiresAt time.Time
}

type Options struct {
	// Window is the fixed rate-limit window.
	Window           time.Duration
	DefaultRateLimit int
	DefaultCacheTTL  time.Duration
	Logger           *slog.Logger
	// Errors, when set, counts every failed call by code.
	Errors *apperr.Stats
}

// Manager owns tool registrations, rate windows, the result cache and call
// statistics. It is safe for concurrent use.
type Manager struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	tools map[string]Definition

	rateMu  sync.Mutex
	windows map[string]*window

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	statsMu sync.Mutex
	stats   map[string]*Stats
}

func NewManager(opts Options) *Manager {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.DefaultRateLimit <= 0 {
		opts.DefaultRateLimit = DefaultRateLimit
	}
	if opts.DefaultCacheTTL <= 0 {
		opts.DefaultCacheTTL = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		tools:   make(map[string]Definition),
		windows: make(map[string]*window),
		cache:   make(map[string]cacheEntry),
		stats:   make(map[string]*Stats),
	}
}

// Register adds def, replacing any tool of the same name.
func (m *Manager) Register(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return apperr.Validation("tool name is required")
	}
	if def.Handler == nil {
		return apperr.Validation(fmt.Sprintf("tool %s has no handler", def.Name))
	}
	if def.RateLimit == 0 {
		def.RateLimit = m.opts.DefaultRateLimit
	}
	if def.RateLimit < MinRateLimit || def.RateLimit > MaxRateLimit {
		return apperr.Validation(fmt.Sprintf("tool %s rate limit must be between %d and %d", def.Name, MinRateLimit, MaxRateLimit))
	}
	if def.CacheTTL == 0 {
		def.CacheTTL = m.opts.DefaultCacheTTL
	}
	if def.CacheTTL < MinCacheTTL || def.CacheTTL > MaxCacheTTL {
		return apperr.Validation(fmt.Sprintf("tool %s cache ttl must be between %s and %s", def.Name, MinCacheTTL, MaxCacheTTL))
	}
	if def.Schema == nil {
		def.Schema = Args[NoArgs]()
	}

	m.mu.Lock()
	_, dup := m.tools[def.Name]
	m.tools[def.Name] = def
	m.mu.Unlock()
	if dup {
		m.logger.Warn("tool registered twice, replacing", "tool", def.Name)
	}

	m.statsMu.Lock()
	if _, ok := m.stats[def.Name]; !ok {
		m.stats[def.Name] = &Stats{Name: def.Name}
	}
	m.statsMu.Unlock()
	return nil
}

// MustRegister is Register for static catalogs.
func (m *Manager) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := m.Register(d); err != nil {
			panic(err)
		}
	}
}

func (m *Manager) lookup(name string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.tools[name]
	return d, ok
}

// List returns every registered tool ordered by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.tools))
	for _, d := range m.tools {
		out = append(out, Info{Name: d.Name, Description: d.Description, Schema: d.Schema.JSON()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the named tool. A failed call returns a nil result and an
// *apperr.Error; use ErrorResult to render it.
func (m *Manager) Execute(ctx context.Context, name string, raw map[string]any, opts ExecuteOptions) (*Result, error) {
	start := m.now()
	reqID := opts.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	def, ok := m.lookup(name)
	if !ok {
		err := apperr.NotFound("tool", name)
		m.countError(err)
		return nil, err
	}
	log := m.logger.With("tool", name, "request_id", reqID)

	res, err := m.run(ctx, def, raw, reqID, start, opts)
	m.recordCall(name, start, err)
	if err != nil {
		log.Debug("tool call failed", "error", err)
		return nil, err
	}
	log.Debug("tool call finished", "cached", res.Meta.Cached, "took", res.Meta.ExecutionTime)
	return res, nil
}

func (m *Manager) run(ctx context.Context, def Definition, raw map[string]any, reqID string, start time.Time, opts ExecuteOptions) (*Result, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	args, err := def.Schema.Parse(raw)
	if err != nil {
		return nil, apperr.Normalize(err)
	}

	if !opts.SkipRateLimit {
		if err := m.checkRate(def, start); err != nil {
			return nil, err
		}
	}

	var key string
	if def.Cacheable {
		key, err = cacheKey(def.Name, args)
		if err != nil {
			return nil, apperr.Internal("building cache key", err)
		}
		if !opts.SkipCache {
			if e, ok := m.cached(key); ok {
				return &Result{
					Content: e.content,
					Meta:    Meta{ExecutionTime: m.now().Sub(start), ResultSize: e.size, Cached: true, RequestID: reqID},
				}, nil
			}
		}
	}

	call := &Call{Tool: def.Name, RawArgs: raw, Args: args, RequestID: reqID, StartTime: start}
	text, err := def.Handler(ctx, call)
	if err != nil {
		return nil, wrapHandlerError(def.Name, err)
	}

	content := []Content{{Type: "text", Text: text}}
	size := contentSize(content)
	if def.Cacheable {
		m.store(key, content, size, def.CacheTTL)
	}
	return &Result{
		Content: content,
		Meta:    Meta{ExecutionTime: m.now().Sub(start), ResultSize: size, RequestID: reqID},
	}, nil
}

// wrapHandlerError keeps taxonomy errors and turns anything else into a
// tool call error.
func wrapHandlerError(tool string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Normalize(err)
	}
	return apperr.ToolCall(tool, err)
}

func (m *Manager) checkRate(def Definition, now time.Time) error {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	w, ok := m.windows[def.Name]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.opts.Window)}
		m.windows[def.Name] = w
	}
	if w.count >= def.RateLimit {
		return apperr.RateLimit(def.Name, def.RateLimit, w.resetAt).WithDetail("currentCount", w.count)
	}
	w.count++
	return nil
}

// cacheKey is the tool name plus the key-sorted JSON of the arguments.
func cacheKey(name string, args any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return name + ":" + string(canon), nil
}

func contentSize(c []Content) int {
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(b)
}

func (m *Manager) cached(key string) (cacheEntry, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return cacheEntry{}, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.cache, key)
		return cacheEntry{}, false
	}
	e.content = append([]Content(nil), e.content...)
	return e, true
}

func (m *Manager) store(key string, content []Content, size int, ttl time.Duration) {
	m.cacheMu.Lock()
	m.cache[key] = cacheEntry{
		content:   append([]Content(nil), content...),
		size:      size,
		expiresAt: m.now().Add(ttl),
	}
	m.cacheMu.Unlock()
}

// ClearCache drops the cached results of tool, or of every tool when tool
// is empty, and returns how many entries were removed.
func (m *Manager) ClearCache(tool string) int {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if tool == "" {
		n := len(m.cache)
		clear(m.cache)
		return n
	}
	var n int
	prefix := tool + ":"
	for k := range m.cache {
		if strings.HasPrefix(k, prefix) {
			delete(m.cache, k)
			n++
		}
	}
	return n
}

// SweepExpired removes expired cache entries and returns how many went.
func (m *Manager) SweepExpired() int {
	now := m.now()
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	var n int
	for k, e := range m.cache {
		if now.After(e.expiresAt) {
			delete(m.cache, k)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("swept expired tool results", "entries", n)
	}
	return n
}

func (m *Manager) CacheSize() int {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return len(m.cache)
}

func (m *Manager) recordCall(name string, start time.Time, err error) {
	now := m.now()
	elapsed := now.Sub(start)

	m.statsMu.Lock()
	st, ok := m.stats[name]
	if !ok {
		st = &Stats{Name: name}
		m.stats[name] = st
	}
	st.TotalCalls++
	st.TotalExecutionTime += elapsed
	st.AverageExecutionTime = st.TotalExecutionTime / time.Duration(st.TotalCalls)
	st.LastCalled = now
	if err == nil {
		st.SuccessfulCalls++
	} else {
		st.FailedCalls++
		st.LastError = &LastError{Message: apperr.Normalize(err).Message, Time: now}
	}
	m.statsMu.Unlock()

	m.countError(err)
}

func (m *Manager) countError(err error) {
	if err != nil && m.opts.Errors != nil {
		m.opts.Errors.Record(err)
	}
}

// Stats returns the counters of every tool ordered by name.
func (m *Manager) Stats() []Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := make([]Stats, 0, len(m.stats))
	for _, st := range m.stats {
		out = append(out, copyStats(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolStats returns the counters of one tool.
func (m *Manager) ToolStats(name string) (Stats, bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	st, ok := m.stats[name]
	if !ok {
		return Stats{}, false
	}
	return copyStats(st), true
}

func copyStats(st *Stats) Stats {
	c := *st
	if st.LastError != nil {
		le := *st.LastError
		c.LastError = &le
	}
	return c
}

// ResetStats zeroes the counters of name, or of every tool when name is
// empty.
func (m *Manager) ResetStats(name string) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for n := range m.stats {
		if name == "" || n == name {
			m.stats[n] = &Stats{Name: n}
		}
	}
}

// Health grades every registered tool.
func (m *Manager) Health() health.Report {
	stats := m.Stats()
	samples := make([]health.Sample, len(stats))
	for i, st := range stats {
		samples[i] = health.Sample{
			Name:       st.Name,
			Calls:      st.TotalCalls,
			Errors:     st.FailedCalls,
			AvgLatency: st.AverageExecutionTime,
		}
	}
	return health.Aggregate(samples, health.ToolThresholds)
}
