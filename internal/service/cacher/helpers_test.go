package cacher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/vertextoedge/convert-cache/internal/adapter/cdn"
	"github.com/vertextoedge/convert-cache/internal/adapter/sqlite"
	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
)

const testHost = "cdn.example.com"

// buildZip creates an archive with the given files. Names ending in "/" are
// written as directory entries.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if strings.HasSuffix(name, "/") {
			continue
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// bundleServer serves /dynamicConvert/{id}.zip from an in-memory map
type bundleServer struct {
	mu       sync.Mutex
	bundles  map[string][]byte
	requests map[string]int
}

func newBundleServer() *bundleServer {
	return &bundleServer{
		bundles:  make(map[string][]byte),
		requests: make(map[string]int),
	}
}

func (s *bundleServer) add(taskUUID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[taskUUID] = data
}

func (s *bundleServer) requestCount(taskUUID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[taskUUID]
}

func (s *bundleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dynamicConvert/"), ".zip")

	s.mu.Lock()
	s.requests[id]++
	data, ok := s.bundles[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

type testEnv struct {
	cacher     *Cacher
	store      *sqlite.Store
	server     *httptest.Server
	dispatcher *event.InMemoryDispatcher
	locator    *domain.Locator
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dispatcher := event.NewInMemoryDispatcher(false)
	locator := domain.NewLocator(testHost, srv.URL)
	fetcher := cdn.NewClientWithHTTPClient(srv.Client(), dispatcher, 0)

	c := New(DefaultConfig(), store, nil, fetcher, locator, dispatcher, zap.NewNop())

	return &testEnv{
		cacher:     c,
		store:      store,
		server:     srv,
		dispatcher: dispatcher,
		locator:    locator,
	}
}

func (e *testEnv) keys(t *testing.T) []string {
	t.Helper()
	cache, err := e.cacher.OpenCache(context.Background())
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	keys, err := cache.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	return keys
}

func (e *testEnv) match(t *testing.T, key string) *domain.CacheEntry {
	t.Helper()
	cache, err := e.cacher.OpenCache(context.Background())
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	entry, err := cache.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("Match(%s) error = %v", key, err)
	}
	return entry
}

func (e *testEnv) hasTask(t *testing.T, taskUUID string) bool {
	t.Helper()
	ok, err := e.cacher.HasTaskUUID(context.Background(), taskUUID)
	if err != nil {
		t.Fatalf("HasTaskUUID(%s) error = %v", taskUUID, err)
	}
	return ok
}

// taskBundle returns a typical bundle for taskUUID: a top level index.html
// and assets under a directory named after the task.
func taskBundle(taskUUID string) map[string]string {
	return map[string]string{
		"index.html":                  "<html>" + taskUUID + "</html>",
		taskUUID + "/":                "",
		taskUUID + "/style.css":       "body{}",
		taskUUID + "/foo.xyz":         "unknown",
		taskUUID + "/img/":            "",
		taskUUID + "/img/slide-1.png": "PNGDATA",
		taskUUID + "/scripts/app.JS":  "console.log(1)",
	}
}

func (h *memHandle) setPutErr(err error) {
	h.mu.Lock()
	h.putErr = err
	h.mu.Unlock()
}

// newMemCacher wires a Cacher to an in-memory cache handle and a bundle
// server.
func newMemCacher(t *testing.T, handler http.Handler, handle *memHandle) *Cacher {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dispatcher := event.NewInMemoryDispatcher(false)
	fetcher := cdn.NewClientWithHTTPClient(srv.Client(), dispatcher, 0)
	return New(DefaultConfig(), &mockStorage{handle: handle}, nil, fetcher,
		domain.NewLocator(testHost, srv.URL), dispatcher, zap.NewNop())
}

// mockStorage counts Open calls and can fail or block them
type mockStorage struct {
	mu       sync.Mutex
	opens    int
	deletes  int
	openErr  error
	openGate chan struct{}
	handle   port.CacheHandle
}

func (m *mockStorage) Open(ctx context.Context, name string) (port.CacheHandle, error) {
	m.mu.Lock()
	m.opens++
	gate := m.openGate
	err := m.openErr
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if m.handle != nil {
		return m.handle, nil
	}
	return newMemHandle(name), nil
}

func (m *mockStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	return true, nil
}

func (m *mockStorage) Ping() error { return nil }

func (m *mockStorage) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// memHandle is an in-memory CacheHandle. putErr fails every Put whose
// location ends with failSuffix, and putGate holds those Puts until closed.
type memHandle struct {
	name       string
	mu         sync.Mutex
	entries    map[string]*domain.CacheEntry
	failSuffix string
	putErr     error
	putGate    chan struct{}
	matchErr   map[string]error
}

func newMemHandle(name string) *memHandle {
	return &memHandle{name: name, entries: make(map[string]*domain.CacheEntry)}
}

func (h *memHandle) Name() string { return h.name }

func (h *memHandle) Keys(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (h *memHandle) Match(ctx context.Context, key string) (*domain.CacheEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.matchErr[key]; ok {
		return nil, err
	}
	e, ok := h.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (h *memHandle) Put(ctx context.Context, entry *domain.CacheEntry) error {
	h.mu.Lock()
	gate := h.putGate
	suffix := h.failSuffix
	h.mu.Unlock()
	if gate != nil && strings.HasSuffix(entry.Location, suffix) {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.putErr != nil && strings.HasSuffix(entry.Location, h.failSuffix) {
		return h.putErr
	}
	h.entries[entry.Location] = entry
	return nil
}

func (h *memHandle) Delete(ctx context.Context, key string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[key]
	delete(h.entries, key)
	return ok, nil
}
