package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/presence"
)

const runtimePrefix = "/2018-06-01/runtime"

// Runtime API headers.
const (
	headerRequestID   = "Lambda-Runtime-Aws-Request-Id"
	headerDeadlineMs  = "Lambda-Runtime-Deadline-Ms"
	headerFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"
	headerTraceID     = "Lambda-Runtime-Trace-Id"
	headerErrorType   = "Lambda-Runtime-Function-Error-Type"
)

// maxRuntimeBody matches the synchronous invocation payload limit.
const maxRuntimeBody = 6 << 20

const defaultErrorType = "Unhandled"

func formatDeadline(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// registerRuntimeRoutes adds the Lambda runtime API to mux.
func (s *RuntimeServer) registerRuntimeRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+runtimePrefix+"/invocation/next", s.handleNextInvocation)
	mux.HandleFunc("POST "+runtimePrefix+"/invocation/{id}/response", s.handleInvocationResponse)
	mux.HandleFunc("POST "+runtimePrefix+"/invocation/{id}/error", s.handleInvocationError)
	mux.HandleFunc("POST "+runtimePrefix+"/init/error", s.handleInitError)
}

// handleNextInvocation handles GET /2018-06-01/runtime/invocation/next.
func (s *RuntimeServer) handleNextInvocation(w http.ResponseWriter, r *http.Request) {
	done := s.presence.Poll(runtimeCall(r, presence.CallNext, ""))
	ev, ok := s.next(r.Context(), s.pollTimeout)
	done()
	if !ok {
		if r.Context().Err() != nil {
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.recordCall(r, presence.CallNext, ev.ID)

	for k, v := range s.invocationHeaders(ev, time.Now()) {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ev.Payload)
}

// handleInvocationResponse handles POST /2018-06-01/runtime/invocation/{id}/response.
func (s *RuntimeServer) handleInvocationResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.recordCall(r, presence.CallResponse, id)
	body, ok := readRuntimeBody(w, r)
	if !ok {
		return
	}
	if _, ok := s.reportSuccess(r.Context(), id, string(body)); !ok {
		writeRuntimeError(w, http.StatusNotFound, "InvalidRequestID", "unknown or finished request id "+id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "OK"})
}

// handleInvocationError handles POST /2018-06-01/runtime/invocation/{id}/error.
func (s *RuntimeServer) handleInvocationError(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.recordCall(r, presence.CallError, id)
	body, ok := readRuntimeBody(w, r)
	if !ok {
		return
	}
	errorType := errorTypeOf(r.Header.Get(headerErrorType), body)
	if _, ok := s.reportError(r.Context(), id, errorType, string(body)); !ok {
		writeRuntimeError(w, http.StatusNotFound, "InvalidRequestID", "unknown or finished request id "+id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "OK"})
}

// handleInitError handles POST /2018-06-01/runtime/init/error. Nothing is
// queued or executing on behalf of an init failure, so it is only logged.
func (s *RuntimeServer) handleInitError(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r, presence.CallInitError, "")
	body, ok := readRuntimeBody(w, r)
	if !ok {
		return
	}
	s.logger.Error("runtime init failed",
		"error_type", errorTypeOf(r.Header.Get(headerErrorType), body),
		"body", string(body),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "OK"})
}

// recordCall notes a runtime API call in the presence roster.
func (s *RuntimeServer) recordCall(r *http.Request, kind, requestID string) {
	s.presence.Record(runtimeCall(r, kind, requestID))
}

// runtimeCall describes r for the roster. Clients are told apart by remote
// host and User-Agent.
func runtimeCall(r *http.Request, kind, requestID string) presence.Call {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ua := r.UserAgent()
	client := host
	if ua != "" {
		client = host + " " + ua
	}
	return presence.Call{Client: client, UserAgent: ua, Kind: kind, RequestID: requestID}
}

// errorTypeOf prefers the header, then the errorType field of a JSON body.
func errorTypeOf(header string, body []byte) string {
	if header != "" {
		return header
	}
	var payload struct {
		ErrorType string `json:"errorType"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.ErrorType != "" {
		return payload.ErrorType
	}
	return defaultErrorType
}

func readRuntimeBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRuntimeBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRuntimeError(w, http.StatusRequestEntityTooLarge, "RequestEntityTooLarge", "payload exceeds limit")
		} else {
			writeRuntimeError(w, http.StatusBadRequest, "InvalidRequestContent", err.Error())
		}
		return nil, false
	}
	return body, true
}

// writeRuntimeError writes an error in the runtime API's shape.
func writeRuntimeError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, map[string]string{"errorType": errorType, "errorMessage": message})
}
