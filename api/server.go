package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/config"
	"github.com/memcore-dev/memcore/diff"
	"github.com/memcore-dev/memcore/memreader"
	"github.com/memcore-dev/memcore/pagecache"
	"github.com/memcore-dev/memcore/taskmanager"
)

// Size limits mirrored from mcp_handlers_memory.cpp's limits:: namespace.
const (
	maxMemoryRead     = 16 << 20
	maxMemorySnapshot = 16 << 20
	maxScanSize       = 512 << 20
)

// Server wires every analysis subsystem into one HTTP/JSON surface.
type Server struct {
	cfg      config.Config
	session  *memreader.Session
	cache    *pagecache.Cache
	store    *cachestore.Store
	tasks    *taskmanager.Manager
	snaps    *diff.Store
	bookmarks *BookmarkManager
	history  *SearchHistory
	log      *logrus.Entry

	router *mux.Router
	handler http.Handler
}

// Deps bundles Server's constructor dependencies, each borrowed (per
// memreader's ownership rule, §3): the Server never closes session.
type Deps struct {
	Config    config.Config
	Session   *memreader.Session
	Cache     *pagecache.Cache
	Store     *cachestore.Store
	Tasks     *taskmanager.Manager
	Snapshots *diff.Store
	Bookmarks *BookmarkManager
	History   *SearchHistory
	Log       *logrus.Entry
}

// NewServer builds a Server and its route table. Pass deps with sane
// defaults already constructed (pagecache.New, taskmanager.Default, etc.);
// NewServer does not open any subsystem itself.
func NewServer(deps Deps) *Server {
	if deps.Tasks == nil {
		deps.Tasks = taskmanager.Default()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = diff.NewStore()
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.Bookmarks == nil {
		deps.Bookmarks = NewBookmarkManager("")
	}
	if deps.History == nil {
		deps.History = NewSearchHistory("")
	}

	s := &Server{
		cfg:       deps.Config,
		session:   deps.Session,
		cache:     deps.Cache,
		store:     deps.Store,
		tasks:     deps.Tasks,
		snaps:     deps.Snapshots,
		bookmarks: deps.Bookmarks,
		history:   deps.History,
		log:       deps.Log,
	}
	s.routes()
	return s
}

// memSource returns a Read(va,n)[]byte closure for pid, routed through the
// page cache in front of the session's reader — the glue no lower package
// provides, since pagecache.Cache and memreader.Reader are deliberately
// unaware of each other.
func (s *Server) memSource(pid uint32) func(va uint64, n uint32) []byte {
	return func(va uint64, n uint32) []byte {
		if s.cache != nil {
			if data, ok := s.cache.Get(pid, va, n); ok {
				return data
			}
		}
		data := s.session.Reader().Read(pid, va, n)
		if len(data) > 0 && s.cache != nil {
			s.cache.Put(pid, va, data)
		}
		return data
	}
}

// memSourceAdapter wraps memSource's closure in the narrow MemSource shape
// funcrecovery/rtti/schema each declare independently, letting Server pass
// one value to any of them.
type memSourceAdapter func(va uint64, n uint32) []byte

func (f memSourceAdapter) Read(va uint64, n uint32) []byte { return f(va, n) }

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/read_memory", s.handleReadMemory).Methods(http.MethodPost)
	api.HandleFunc("/write_memory", s.handleWriteMemory).Methods(http.MethodPost)
	api.HandleFunc("/disassemble", s.handleDisassemble).Methods(http.MethodPost)
	api.HandleFunc("/scan_pattern", s.handleScanPattern).Methods(http.MethodPost)
	api.HandleFunc("/scan_strings", s.handleScanStrings).Methods(http.MethodPost)
	api.HandleFunc("/find_xrefs", s.handleFindXrefs).Methods(http.MethodPost)
	api.HandleFunc("/resolve_pointer_chain", s.handleResolvePointerChain).Methods(http.MethodPost)

	api.HandleFunc("/recover_functions", s.handleRecoverFunctions).Methods(http.MethodPost)
	api.HandleFunc("/get_function_at", s.handleGetFunctionAt).Methods(http.MethodPost)
	api.HandleFunc("/get_function_containing", s.handleGetFunctionContaining).Methods(http.MethodPost)

	api.HandleFunc("/rtti_parse_vtable", s.handleRTTIParseVTable).Methods(http.MethodPost)
	api.HandleFunc("/rtti_scan_module", s.handleRTTIScanModule).Methods(http.MethodPost)

	api.HandleFunc("/cs2_init", s.handleCS2Init).Methods(http.MethodPost)
	api.HandleFunc("/cs2_identify", s.handleCS2Identify).Methods(http.MethodPost)
	api.HandleFunc("/cs2_read_field", s.handleCS2ReadField).Methods(http.MethodPost)
	api.HandleFunc("/cs2_inspect", s.handleCS2Inspect).Methods(http.MethodPost)

	api.HandleFunc("/memory_snapshot", s.handleMemorySnapshot).Methods(http.MethodPost)
	api.HandleFunc("/memory_snapshot_list", s.handleMemorySnapshotList).Methods(http.MethodGet)
	api.HandleFunc("/memory_snapshot_delete", s.handleMemorySnapshotDelete).Methods(http.MethodPost)
	api.HandleFunc("/memory_diff", s.handleMemoryDiff).Methods(http.MethodPost)

	api.HandleFunc("/cache_stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache_clear", s.handleCacheClear).Methods(http.MethodPost)

	api.HandleFunc("/evaluate_expression", s.handleEvaluateExpression).Methods(http.MethodPost)

	api.HandleFunc("/bookmark_list", s.handleBookmarkList).Methods(http.MethodGet)
	api.HandleFunc("/bookmark_add", s.handleBookmarkAdd).Methods(http.MethodPost)
	api.HandleFunc("/bookmark_remove", s.handleBookmarkRemove).Methods(http.MethodPost)

	api.HandleFunc("/task_status", s.handleTaskStatus).Methods(http.MethodPost)
	api.HandleFunc("/task_cancel", s.handleTaskCancel).Methods(http.MethodPost)
	api.HandleFunc("/task_list", s.handleTaskList).Methods(http.MethodGet)
	api.HandleFunc("/task_cleanup", s.handleTaskCleanup).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	})

	s.router = r
	s.handler = c.Handler(r)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// authMiddleware gates every /api route behind the configured API key, the
// one auth mechanic spec.md §6.3's config field leaves in scope. A blank
// configured key disables the check (local-only developer use).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if got != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, envelope{OK: false, Error: "unauthorized: missing or invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}
