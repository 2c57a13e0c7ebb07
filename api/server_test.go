package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/config"
	"github.com/memcore-dev/memcore/memreader"
	"github.com/memcore-dev/memcore/pagecache"
)

// fakeVMM is a minimal in-memory VMM, grounded on memreader_test.go's
// fakeVMM — duplicated here rather than exported from memreader, since
// memreader's test double is deliberately package-private.
type fakeVMM struct {
	data  map[uint64][]byte
	procs []memreader.ProcessInfo
	mods  []memreader.ModuleInfo
}

func (f *fakeVMM) Read(pid uint32, va uint64, n uint32) []byte {
	b, ok := f.data[va]
	if !ok {
		return nil
	}
	if uint32(len(b)) > n {
		return b[:n]
	}
	return b
}
func (f *fakeVMM) Write(pid uint32, va uint64, data []byte) bool {
	f.data[va] = append([]byte(nil), data...)
	return true
}
func (f *fakeVMM) Translate(pid uint32, va uint64) (uint64, bool) { return va, true }
func (f *fakeVMM) ListProcesses() ([]memreader.ProcessInfo, error) {
	return f.procs, nil
}
func (f *fakeVMM) ListModules(pid uint32) ([]memreader.ModuleInfo, error) { return f.mods, nil }
func (f *fakeVMM) ListRegions(pid uint32) ([]memreader.MemoryRegion, error) {
	return nil, nil
}
func (f *fakeVMM) ReadPhysical(pa uint64, n uint32) []byte { return nil }
func (f *fakeVMM) Close() error                            { return nil }

func newTestServer(t *testing.T, vmm *fakeVMM) *Server {
	t.Helper()
	sess, err := memreader.Open(memreader.Config{VMM: vmm})
	if err != nil {
		t.Fatalf("memreader.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	store, err := cachestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("cachestore.New() failed: %v", err)
	}

	cfg := config.Default()
	cfg.Features.Write = true

	return NewServer(Deps{
		Config:  cfg,
		Session: sess,
		Cache:   pagecache.New(pagecache.Config{}),
		Store:   store,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestReadMemoryRoundTrip(t *testing.T) {
	vmm := &fakeVMM{
		data:  map[uint64][]byte{0x1000: {0xAA, 0xBB, 0xCC, 0xDD}},
		procs: []memreader.ProcessInfo{{PID: 100, Name: "target.exe"}},
	}
	s := newTestServer(t, vmm)

	rec, env := doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid":     100,
		"address": "0x1000",
		"size":    4,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %+v", rec.Code, env)
	}
	if !env.OK {
		t.Fatalf("ok = false, error = %q", env.Error)
	}
}

func TestReadMemoryRejectsZeroAddress(t *testing.T) {
	s := newTestServer(t, &fakeVMM{data: map[uint64][]byte{}})

	rec, env := doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid":     1,
		"address": "0x0",
		"size":    4,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if env.OK {
		t.Error("ok = true, want false for a zero address")
	}
}

func TestReadMemoryRejectsOversizeRead(t *testing.T) {
	s := newTestServer(t, &fakeVMM{data: map[uint64][]byte{}})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid":     1,
		"address": "0x1000",
		"size":    maxMemoryRead + 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReadMemoryUnknownProcessIsNotFound(t *testing.T) {
	vmm := &fakeVMM{
		data:  map[uint64][]byte{0x1000: {1, 2, 3, 4}},
		procs: []memreader.ProcessInfo{{PID: 1, Name: "other.exe"}},
	}
	s := newTestServer(t, vmm)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid":     999,
		"address": "0x1000",
		"size":    4,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWriteThenReadMemory(t *testing.T) {
	vmm := &fakeVMM{data: map[uint64][]byte{}, procs: []memreader.ProcessInfo{{PID: 1, Name: "target.exe"}}}
	s := newTestServer(t, vmm)

	rec, env := doJSON(t, s, http.MethodPost, "/api/write_memory", map[string]interface{}{
		"pid":     1,
		"address": "0x2000",
		"data":    "aabbccdd",
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("write_memory failed: status=%d env=%+v", rec.Code, env)
	}

	rec, env = doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid":     1,
		"address": "0x2000",
		"size":    4,
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("read_memory failed: status=%d env=%+v", rec.Code, env)
	}
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want map", env.Data)
	}
	if data["hex"] != "aabbccdd" {
		t.Errorf("hex = %v, want aabbccdd", data["hex"])
	}
}

func TestAuthMiddlewareRejectsMissingKey(t *testing.T) {
	vmm := &fakeVMM{data: map[uint64][]byte{}}
	sess, err := memreader.Open(memreader.Config{VMM: vmm})
	if err != nil {
		t.Fatalf("memreader.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	store, err := cachestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("cachestore.New() failed: %v", err)
	}

	cfg := config.Default()
	cfg.APIKey = "secret"
	s := NewServer(Deps{Config: cfg, Session: sess, Cache: pagecache.New(pagecache.Config{}), Store: store})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/read_memory", map[string]interface{}{
		"pid": 1, "address": "0x1000", "size": 4,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/read_memory", bytes.NewBufferString("{}"))
	req.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	if rec2.Code == http.StatusUnauthorized {
		t.Error("authenticated request was rejected as unauthorized")
	}
}

func TestHealthzBypassesAuth(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "secret"
	vmm := &fakeVMM{data: map[uint64][]byte{}}
	sess, _ := memreader.Open(memreader.Config{VMM: vmm})
	t.Cleanup(func() { _ = sess.Close() })
	store, _ := cachestore.New(t.TempDir())
	s := NewServer(Deps{Config: cfg, Session: sess, Cache: pagecache.New(pagecache.Config{}), Store: store})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestTaskStatusUnknownID(t *testing.T) {
	s := newTestServer(t, &fakeVMM{data: map[uint64][]byte{}})

	rec, env := doJSON(t, s, http.MethodPost, "/api/task_status", map[string]interface{}{"task_id": "does-not-exist"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if env.OK {
		t.Error("ok = true, want false for an unknown task id")
	}
}

func TestBookmarkAddListRemove(t *testing.T) {
	s := newTestServer(t, &fakeVMM{data: map[uint64][]byte{}})
	s.bookmarks = NewBookmarkManager("")

	rec, env := doJSON(t, s, http.MethodPost, "/api/bookmark_add", map[string]interface{}{
		"address":  "0x1000",
		"label":    "entry",
		"category": "functions",
	})
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("bookmark_add failed: status=%d env=%+v", rec.Code, env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/bookmark_list", nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	var listEnv envelope
	if err := json.Unmarshal(rec2.Body.Bytes(), &listEnv); err != nil {
		t.Fatalf("decode bookmark_list response: %v", err)
	}
	if !listEnv.OK {
		t.Fatalf("bookmark_list ok = false: %q", listEnv.Error)
	}

	rec3, env3 := doJSON(t, s, http.MethodPost, "/api/bookmark_remove", map[string]interface{}{"index": 0})
	if rec3.Code != http.StatusOK || !env3.OK {
		t.Fatalf("bookmark_remove failed: status=%d env=%+v", rec3.Code, env3)
	}
}
