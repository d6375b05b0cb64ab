package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxMessageBytes caps the size of a single POSTed message.
const maxMessageBytes = 4 * 1024 * 1024

// keepAliveInterval is how often an idle stream gets a comment frame so
// proxies don't time the connection out.
const keepAliveInterval = 30 * time.Second

// SSEHandler serves the streaming endpoint:
//
//	GET     opens the event stream for a session
//	POST    submits one message for a session; the reply arrives on the stream
//	OPTIONS answers CORS preflight
type SSEHandler struct {
	server *Server
}

// NewSSEHandler creates the handler for the given server.
func NewSSEHandler(srv *Server) *SSEHandler {
	return &SSEHandler{server: srv}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodPost:
		h.handleMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStream opens the SSE stream and blocks until the client disconnects.
func (h *SSEHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		// The connected event announces the generated ID, so a client
		// that opens the stream bare still learns where to POST.
		sessionID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, flusher: flusher}
	sess := h.server.Sessions().Create(sessionID, sink)
	defer h.server.Sessions().Remove(sess)
	log.Printf("mcp: session %s connected", sessionID)

	// Optional pre-selection: a client may bind its project on connect
	// instead of calling select_project.
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		if _, err := h.server.store.GetProject(r.Context(), projectID); err != nil {
			log.Printf("mcp: session %s: ignoring unknown projectId %s", sessionID, projectID)
		} else {
			sess.SelectProject(projectID)
		}
	}

	sink.comment("connected")
	if err := sess.Send("connected", ConnectedEvent{Type: "connected", SessionID: sessionID}); err != nil {
		return
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		h.server.ServeSession(r.Context(), sess)
	}()
	// The worker is the only other writer on this sink; it must be gone
	// before the handler returns and the ResponseWriter with it.
	defer func() {
		sess.Close()
		<-workerDone
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Printf("mcp: session %s disconnected", sessionID)
			return
		case <-sess.Done():
			// Replaced by a reconnect or shut down server-side.
			return
		case <-ticker.C:
			if err := sink.comment("ping"); err != nil {
				return
			}
		}
	}
}

// handleMessage enqueues one message on the session's FIFO queue and acks.
// The actual reply is pushed on the stream; the POST body of the ack never
// carries results.
func (h *SSEHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId query parameter is required"})
		return
	}

	sess, ok := h.server.Sessions().Get(sessionID)
	if !ok {
		// 200 with an inline error object: clients poll POST before the
		// stream is up and treat non-2xx as transport failure.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": fmt.Sprintf("unknown session: %s", sessionID),
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	if err := sess.Enqueue(body); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// sseSink writes SSE frames to one response. Sends are serialised: the
// session worker and the keep-alive ticker both write here.
type sseSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// Send writes one named event frame with a JSON payload.
func (s *sseSink) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment writes an SSE comment frame, used for keep-alives.
func (s *sseSink) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("mcp: failed to write JSON response: %v", err)
	}
}
