package cacher

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"go.uber.org/zap"
)

func TestCacher_CacheTaskIsolation(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	server.add("def456", buildZip(t, taskBundle("def456")))
	env := newTestEnv(t, server)
	ctx := context.Background()

	if err := env.cacher.CacheTask(ctx, "abc123", nil); err != nil {
		t.Fatalf("CacheTask() error = %v", err)
	}

	if !env.hasTask(t, "abc123") {
		t.Error("HasTaskUUID(abc123) = false after caching")
	}
	if env.hasTask(t, "def456") {
		t.Error("caching abc123 must not affect def456")
	}

	entry := env.match(t, "https://cdn.example.com/dynamicConvert/")
	if string(entry.Body) != "<html>abc123</html>" || entry.ContentType != "text/html" {
		t.Errorf("root entry = %q (%s)", entry.Body, entry.ContentType)
	}
}

func TestCacher_DeleteTaskUUID(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	server.add("def456", buildZip(t, taskBundle("def456")))
	env := newTestEnv(t, server)
	ctx := context.Background()

	for _, id := range []string{"abc123", "def456"} {
		if err := env.cacher.CacheTask(ctx, id, nil); err != nil {
			t.Fatalf("CacheTask(%s) error = %v", id, err)
		}
	}

	deleted, err := env.cacher.DeleteTaskUUID(ctx, "abc123")
	if err != nil {
		t.Fatalf("DeleteTaskUUID() error = %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}
	if env.hasTask(t, "abc123") {
		t.Error("HasTaskUUID(abc123) = true after delete")
	}
	if !env.hasTask(t, "def456") {
		t.Error("delete of abc123 removed def456")
	}

	// Never cached: a no-op.
	deleted, err = env.cacher.DeleteTaskUUID(ctx, "never-cached")
	if err != nil || deleted != 0 {
		t.Errorf("DeleteTaskUUID(never-cached) = %d, %v", deleted, err)
	}
	if env.hasTask(t, "never-cached") {
		t.Error("HasTaskUUID(never-cached) = true")
	}
}

func TestCacher_ClearAllCache(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	server.add("def456", buildZip(t, taskBundle("def456")))
	env := newTestEnv(t, server)
	ctx := context.Background()

	for _, id := range []string{"abc123", "def456"} {
		if err := env.cacher.CacheTask(ctx, id, nil); err != nil {
			t.Fatalf("CacheTask(%s) error = %v", id, err)
		}
	}

	var cleared []event.CacheCleared
	env.dispatcher.Subscribe(event.NewHandlerFunc(func(e event.DomainEvent) {
		cleared = append(cleared, e.(event.CacheCleared))
	}, event.NameCacheCleared))

	deleted, err := env.cacher.ClearAllCache(ctx)
	if err != nil {
		t.Fatalf("ClearAllCache() error = %v", err)
	}
	// 4 entries per task plus the shared root and index.html locations
	if deleted != 10 {
		t.Errorf("deleted = %d, want 10", deleted)
	}
	for _, id := range []string{"abc123", "def456", "other"} {
		if env.hasTask(t, id) {
			t.Errorf("HasTaskUUID(%s) = true after clear", id)
		}
	}
	if len(env.keys(t)) != 0 {
		t.Error("keys remain after clear")
	}
	if len(cleared) != 1 || cleared[0].Deleted != 10 || cleared[0].CacheName != DefaultCacheName {
		t.Errorf("cleared events = %+v", cleared)
	}
}

func TestCacher_CalculateCache(t *testing.T) {
	server := newBundleServer()
	files := taskBundle("abc123")
	server.add("abc123", buildZip(t, files))
	env := newTestEnv(t, server)
	ctx := context.Background()

	size, err := env.cacher.CalculateCache(ctx)
	if err != nil {
		t.Fatalf("CalculateCache() error = %v", err)
	}
	if size != 0 {
		t.Errorf("CalculateCache() on empty cache = %v, want 0", size)
	}

	if err := env.cacher.CacheTask(ctx, "abc123", nil); err != nil {
		t.Fatalf("CacheTask() error = %v", err)
	}
	// Deleting a task that was never cached changes nothing.
	if _, err := env.cacher.DeleteTaskUUID(ctx, "unrelated"); err != nil {
		t.Fatalf("DeleteTaskUUID() error = %v", err)
	}

	var want int64
	for _, body := range files {
		want += int64(len(body))
	}
	// index.html is stored twice
	want += int64(len(files["index.html"]))

	size, err = env.cacher.CalculateCache(ctx)
	if err != nil {
		t.Fatalf("CalculateCache() error = %v", err)
	}
	wantMB := float64(want) / (1024 * 1024)
	if math.Abs(size-wantMB) > 1e-9 {
		t.Errorf("CalculateCache() = %v, want %v", size, wantMB)
	}
}

func TestCacher_CalculateCacheSkipsUnresolvable(t *testing.T) {
	handle := newMemHandle("netless")
	handle.entries["https://cdn.example.com/dynamicConvert/a"] = &domain.CacheEntry{Body: make([]byte, 1024*1024)}
	handle.entries["https://cdn.example.com/dynamicConvert/b"] = &domain.CacheEntry{Body: []byte("b")}
	handle.matchErr = map[string]error{
		"https://cdn.example.com/dynamicConvert/b": errors.New("evicted"),
	}

	c := New(nil, &mockStorage{handle: handle}, nil, nil, domain.NewLocator(testHost, ""), nil, zap.NewNop())

	size, err := c.CalculateCache(context.Background())
	if err != nil {
		t.Fatalf("CalculateCache() error = %v", err)
	}
	if size != 1 {
		t.Errorf("CalculateCache() = %v, want 1", size)
	}

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 1 || stats.SkippedKeys != 1 || stats.CacheName != "netless" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestCacher_CacheTaskSkipsWhenCached(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	env := newTestEnv(t, server)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.cacher.CacheTask(ctx, "abc123", nil); err != nil {
			t.Fatalf("CacheTask() error = %v", err)
		}
	}
	if got := server.requestCount("abc123"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	if err := env.cacher.CacheTask(ctx, "abc123", &CacheOptions{Force: true}); err != nil {
		t.Fatalf("CacheTask(force) error = %v", err)
	}
	if got := server.requestCount("abc123"); got != 2 {
		t.Errorf("requests after force = %d, want 2", got)
	}

	status, err := env.cacher.Status(ctx, "abc123")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.TaskStateCached || status.Progress != 1 {
		t.Errorf("Status() = %+v", status)
	}
}

func TestCacher_CacheTaskNotFound(t *testing.T) {
	env := newTestEnv(t, newBundleServer())
	ctx := context.Background()

	err := env.cacher.CacheTask(ctx, "abc123", nil)
	if !errors.Is(err, domain.ErrDownloadFailed) {
		t.Fatalf("CacheTask() error = %v, want ErrDownloadFailed", err)
	}
	if len(env.keys(t)) != 0 {
		t.Error("no entries expected after failed download")
	}

	status, err := env.cacher.Status(ctx, "abc123")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.TaskStateAbsent || !strings.Contains(status.LastError, "404") {
		t.Errorf("Status() = %+v", status)
	}
}

func TestCacher_ConcurrentCacheTaskSharesDownload(t *testing.T) {
	data := buildZip(t, taskBundle("abc123"))
	release := make(chan struct{})

	var mu sync.Mutex
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		<-release
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	})
	env := newTestEnv(t, handler)

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- env.cacher.CacheTask(context.Background(), "abc123", nil)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("CacheTask() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestCacher_CacheTaskJoinsPartialRun(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	handle := newMemHandle("netless")
	handle.failSuffix = "app.JS"
	handle.putGate = make(chan struct{})
	c := newMemCacher(t, server, handle)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- c.CacheTask(ctx, "abc123", nil) }()

	waitFor(t, func() bool {
		keys, _ := handle.Keys(ctx)
		return len(keys) == 5
	})
	cached, err := c.HasTaskUUID(ctx, "abc123")
	if err != nil || !cached {
		t.Fatalf("HasTaskUUID() = %v, %v; want true while materializing", cached, err)
	}

	second := make(chan error, 1)
	go func() { second <- c.CacheTask(ctx, "abc123", nil) }()

	select {
	case err := <-second:
		t.Fatalf("second CacheTask returned %v before the bundle was complete", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(handle.putGate)
	for i, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Errorf("CacheTask #%d error = %v", i+1, err)
		}
	}

	if _, err := handle.Match(ctx, "https://cdn.example.com/dynamicConvert/abc123/scripts/app.JS"); err != nil {
		t.Errorf("Match(app.JS) error = %v", err)
	}
	if got := server.requestCount("abc123"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestCacher_CacheTaskRetriesAfterPartialFailure(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	handle := newMemHandle("netless")
	handle.failSuffix = "app.JS"
	handle.putErr = errors.New("quota exceeded")
	c := newMemCacher(t, server, handle)
	ctx := context.Background()

	if err := c.CacheTask(ctx, "abc123", nil); err == nil {
		t.Fatal("CacheTask() error = nil, want put failure")
	}
	cached, err := c.HasTaskUUID(ctx, "abc123")
	if err != nil || !cached {
		t.Fatalf("HasTaskUUID() = %v, %v; want partial entries left", cached, err)
	}
	status, err := c.Status(ctx, "abc123")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.TaskStateAbsent || status.LastError == "" {
		t.Errorf("Status() after failure = %+v", status)
	}

	handle.setPutErr(nil)
	if err := c.CacheTask(ctx, "abc123", nil); err != nil {
		t.Fatalf("second CacheTask() error = %v", err)
	}

	if got := server.requestCount("abc123"); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if _, err := handle.Match(ctx, "https://cdn.example.com/dynamicConvert/abc123/scripts/app.JS"); err != nil {
		t.Errorf("Match(app.JS) error = %v", err)
	}
	status, err = c.Status(ctx, "abc123")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.TaskStateCached || status.LastError != "" {
		t.Errorf("Status() after retry = %+v", status)
	}
}

func TestTracker_MarkCachedKeepsFailure(t *testing.T) {
	tr := newTracker()
	tr.fail("abc123", errors.New("quota exceeded"), false)

	if !tr.failed("abc123") {
		t.Fatal("failed() = false after fail")
	}
	tr.markCached("abc123")

	s := tr.get("abc123")
	if s.State != domain.TaskStateAbsent || s.LastError != "quota exceeded" {
		t.Errorf("status = %+v, want failure kept", s)
	}
}

func TestCacher_StartAndCancelTask(t *testing.T) {
	half := strings.Repeat("x", 32*1024)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(2*len(half)))
		w.Write([]byte(half))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	env := newTestEnv(t, handler)
	ctx := context.Background()

	if err := env.cacher.StartTask("abc123", false); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	if err := env.cacher.StartTask("abc123", false); !errors.Is(err, domain.ErrTaskRunning) {
		t.Errorf("second StartTask() error = %v, want ErrTaskRunning", err)
	}

	waitFor(t, func() bool {
		s, err := env.cacher.Status(ctx, "abc123")
		return err == nil && s.State == domain.TaskStateDownloading && s.Progress > 0
	})

	if !env.cacher.CancelTask("abc123") {
		t.Fatal("CancelTask() = false for running task")
	}

	waitFor(t, func() bool {
		s, err := env.cacher.Status(ctx, "abc123")
		return err == nil && s.State == domain.TaskStateAbsent && s.Canceled
	})

	if env.hasTask(t, "abc123") {
		t.Error("HasTaskUUID() = true after cancel")
	}
	waitFor(t, func() bool { return !env.cacher.CancelTask("abc123") })
}

func TestCacher_StartStop(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	env := newTestEnv(t, server)

	done := make(chan error, 1)
	go func() { done <- env.cacher.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := env.cacher.StartTask("abc123", false); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitFor(t, func() bool { return env.hasTask(t, "abc123") })

	env.cacher.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestCacher_StartWaitsForInFlightTask(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	handle := newMemHandle("netless")
	handle.failSuffix = "app.JS"
	handle.putGate = make(chan struct{})
	c := newMemCacher(t, server, handle)

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := c.StartTask("abc123", false); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitFor(t, func() bool {
		keys, _ := handle.Keys(context.Background())
		return len(keys) == 5
	})

	c.Stop()
	select {
	case err := <-done:
		t.Fatalf("Start() returned %v while a task was still writing", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(handle.putGate)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after the task finished")
	}
	if _, err := handle.Match(context.Background(), "https://cdn.example.com/dynamicConvert/abc123/scripts/app.JS"); err != nil {
		t.Errorf("Match(app.JS) error = %v", err)
	}
}

func TestCacher_DeleteCache(t *testing.T) {
	server := newBundleServer()
	server.add("abc123", buildZip(t, taskBundle("abc123")))
	env := newTestEnv(t, server)
	ctx := context.Background()

	if err := env.cacher.CacheTask(ctx, "abc123", nil); err != nil {
		t.Fatalf("CacheTask() error = %v", err)
	}
	if err := env.cacher.DeleteCache(ctx); err != nil {
		t.Fatalf("DeleteCache() error = %v", err)
	}
	if env.hasTask(t, "abc123") {
		t.Error("HasTaskUUID() = true after DeleteCache")
	}
	if env.cacher.TrackedTasks() != 0 {
		t.Errorf("TrackedTasks() = %d, want 0", env.cacher.TrackedTasks())
	}

	// The cache is recreated on the next use.
	if err := env.cacher.CacheTask(ctx, "abc123", nil); err != nil {
		t.Fatalf("CacheTask() after DeleteCache error = %v", err)
	}
	if !env.hasTask(t, "abc123") {
		t.Error("HasTaskUUID() = false after recaching")
	}
}

func TestCacher_PruneTaskStates(t *testing.T) {
	env := newTestEnv(t, newBundleServer())
	ctx := context.Background()

	_ = env.cacher.CacheTask(ctx, "abc123", nil)
	if env.cacher.TrackedTasks() != 1 {
		t.Fatalf("TrackedTasks() = %d, want 1", env.cacher.TrackedTasks())
	}

	if n := env.cacher.PruneTaskStates(time.Hour); n != 0 {
		t.Errorf("PruneTaskStates(1h) = %d, want 0", n)
	}
	if n := env.cacher.PruneTaskStates(0); n != 1 {
		t.Errorf("PruneTaskStates(0) = %d, want 1", n)
	}
	if env.cacher.TrackedTasks() != 0 {
		t.Errorf("TrackedTasks() = %d, want 0", env.cacher.TrackedTasks())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
