package api

import (
	"net/http"
	"time"
)

type taskIDRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.tasks.Status(req.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, rec)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.tasks.Cancel(req.TaskID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"cancelled": true})
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{"tasks": s.tasks.List()})
}

type taskCleanupRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

func (s *Server) handleTaskCleanup(w http.ResponseWriter, r *http.Request) {
	var req taskCleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	olderThan := time.Duration(req.OlderThanSeconds) * time.Second
	if olderThan <= 0 {
		olderThan = time.Hour
	}
	removed := s.tasks.Cleanup(time.Now(), olderThan)
	writeData(w, map[string]interface{}{"removed": removed})
}
