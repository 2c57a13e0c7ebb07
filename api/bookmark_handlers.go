package api

import (
	"net/http"
	"time"

	"github.com/memcore-dev/memcore/coreerr"
)

func (s *Server) handleBookmarkList(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeData(w, map[string]interface{}{"bookmarks": []Bookmark{}})
		return
	}
	category := r.URL.Query().Get("category")
	if category != "" {
		writeData(w, map[string]interface{}{"bookmarks": s.bookmarks.GetByCategory(category)})
		return
	}
	writeData(w, map[string]interface{}{"bookmarks": s.bookmarks.GetAll()})
}

type bookmarkAddRequest struct {
	Address  uint64 `json:"address,string"`
	Label    string `json:"label"`
	Notes    string `json:"notes"`
	Category string `json:"category"`
	Module   string `json:"module"`
}

func (s *Server) handleBookmarkAdd(w http.ResponseWriter, r *http.Request) {
	var req bookmarkAddRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "bookmark_add", "address"))
		return
	}
	if s.bookmarks == nil {
		writeError(w, coreerr.New(coreerr.Fatal, "bookmark_add", "bookmarks"))
		return
	}

	idx := s.bookmarks.Add(Bookmark{
		Address:  req.Address,
		Label:    req.Label,
		Notes:    req.Notes,
		Category: req.Category,
		Module:   req.Module,
	}, time.Now())
	_ = s.bookmarks.Save()

	writeData(w, map[string]interface{}{"index": idx})
}

type bookmarkRemoveRequest struct {
	Index   int    `json:"index"`
	Address uint64 `json:"address,string"`
}

func (s *Server) handleBookmarkRemove(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.bookmarks == nil {
		writeError(w, coreerr.New(coreerr.Fatal, "bookmark_remove", "bookmarks"))
		return
	}

	var removed bool
	if req.Address != 0 {
		removed = s.bookmarks.RemoveByAddress(req.Address)
	} else {
		removed = s.bookmarks.Remove(req.Index)
	}
	if !removed {
		writeError(w, coreerr.New(coreerr.NotFound, "bookmark_remove", "index"))
		return
	}
	_ = s.bookmarks.Save()
	writeData(w, map[string]interface{}{"removed": true})
}
