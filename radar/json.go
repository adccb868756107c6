package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/radarsiope/radar/dispatch"
	log "github.com/sirupsen/logrus"
)

// Response is the root response for every api call
type Response struct {
	Success bool        `json:"success"`
	Errors  interface{} `json:"errors"`
	Result  interface{} `json:"result"`
	Meta    Meta        `json:"meta"`
}

// Errors is our error struct for if something goes wrong
type Errors struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Meta contains our version number and by
type Meta struct {
	Version string `json:"version"`
	By      string `json:"by"`
}

// GetMeta returns meta info for json api responses
func GetMeta() Meta {
	return Meta{
		Version: version,
		By:      "Radar SIOPE",
	}
}

// DispatchRequest is the body of a dispatch call
type DispatchRequest struct {
	Jobs []dispatch.Job `json:"jobs"`
}

// DispatchResult is returned once every job of the call has been attempted
type DispatchResult struct {
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []dispatch.Result `json:"results"`
}

// Summarise counts the outcomes of results
func Summarise(results []dispatch.Result) DispatchResult {
	out := DispatchResult{Results: results}
	for _, r := range results {
		if r.OK {
			out.Sent++
		} else {
			out.Failed++
		}
	}
	return out
}

// DispatchJSON sends a batch of emails and returns one result per job
func (s *Server) DispatchJSON(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnJSONError(w, r, http.StatusBadRequest, "Failed to decode request body")
		return
	}

	if len(req.Jobs) == 0 {
		returnJSONError(w, r, http.StatusBadRequest, "No jobs given")
		return
	}

	if len(req.Jobs) > s.cfg.MaxJobs {
		returnJSONError(w, r, http.StatusBadRequest, fmt.Sprintf("Too many jobs: at most %v per call", s.cfg.MaxJobs))
		return
	}

	// the caller going away must not leave half a batch unsent
	results := s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), req.Jobs)

	out := Summarise(results)

	log.WithFields(log.Fields{
		"sent":   out.Sent,
		"failed": out.Failed,
	}).Info("DispatchJSON: dispatch finished")

	returnJSON(w, r, http.StatusOK, Response{
		Success: true,
		Result:  out,
		Meta:    GetMeta(),
	})
}

func returnJSONError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	returnJSON(w, r, status, Response{
		Success: false,
		Result:  nil,
		Meta:    GetMeta(),
		Errors: Errors{
			Code: status,
			Msg:  msg,
		},
	})
}

func returnJSON(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	err := encoder.Encode(resp)
	if err != nil {
		log.WithError(err).Error("returnJSON: failed to write response")
	}
}
