package api

import (
	"net/http"
	"strconv"
	"time"

	"ordersync/internal/apperr"
)

type frequencyRequest struct {
	// Frequency is a Go duration ("10m") or a number of minutes.
	Frequency string `json:"frequency"`
	Minutes   int    `json:"minutes"`
}

func (f frequencyRequest) duration() (time.Duration, error) {
	if f.Minutes > 0 {
		return time.Duration(f.Minutes) * time.Minute, nil
	}
	if f.Frequency == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(f.Frequency); err == nil && n > 0 {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(f.Frequency)
	if err != nil || d < time.Second {
		return 0, apperr.Invalid("frequency must be a duration of at least 1s, got %q", f.Frequency)
	}
	return d, nil
}

func (s *Server) SyncStartHandler(w http.ResponseWriter, r *http.Request) {
	var in frequencyRequest
	if err := decodeJSON(r, &in, true); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := in.duration()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Scheduler.Start(d); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "sync started", s.Scheduler.Status())
}

func (s *Server) SyncStopHandler(w http.ResponseWriter, r *http.Request) {
	s.Scheduler.Stop()
	writeOK(w, "sync stopped", s.Scheduler.Status())
}

func (s *Server) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeOK(w, "", s.Scheduler.Status())
}

// SyncTriggerHandler runs a pass in the request. An overlapping trigger
// returns immediately with a skipped run.
func (s *Server) SyncTriggerHandler(w http.ResponseWriter, r *http.Request) {
	run := s.Scheduler.Trigger(r.Context())
	msg := "sync completed"
	if run.Skipped {
		msg = "sync already in progress"
	}
	writeOK(w, msg, run)
}

func (s *Server) SyncFrequencyHandler(w http.ResponseWriter, r *http.Request) {
	var in frequencyRequest
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := in.duration()
	if err == nil && d == 0 {
		err = apperr.Validation("frequency")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Scheduler.SetFrequency(d); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "sync frequency updated", s.Scheduler.Status())
}
