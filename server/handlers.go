package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
)

// LineInfo is the JSON shape returned for each multiplexer line, grounded
// on the teacher's ServerInfo but reporting tmxr.Line's own connection and
// byte-count state instead of an IPMI SOL session.
type LineInfo struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	PeerAddr  uint32 `json:"peerAddr,omitempty"`
	RxBytes   uint64 `json:"rxBytes"`
	TxBytes   uint64 `json:"txBytes"`
	TxDrops   uint64 `json:"txDrops"`
	HasLog    bool   `json:"hasLog"`
}

func lineIndex(r *http.Request) (int, bool) {
	raw := mux.Vars(r)["index"]
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func (s *Server) lineInfo(index int) (LineInfo, bool) {
	if index < 0 || index >= len(s.tmux.Lines) {
		return LineInfo{}, false
	}
	l := s.tmux.Lines[index]
	rx, tx, drops := l.Stats()
	return LineInfo{
		Index:     index,
		Label:     l.Label(),
		Enabled:   l.Enabled(),
		Connected: l.Connected(),
		PeerAddr:  l.PeerAddr(),
		RxBytes:   rx,
		TxBytes:   tx,
		TxDrops:   drops,
		HasLog:    l.HasLog(),
	}, true
}

func (s *Server) handleListLines(w http.ResponseWriter, r *http.Request) {
	result := make([]LineInfo, 0, len(s.tmux.Lines))
	for i := range s.tmux.Lines {
		info, _ := s.lineInfo(i)
		result = append(result, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(r)
	if !ok {
		http.Error(w, "bad line index", http.StatusBadRequest)
		return
	}
	info, ok := s.lineInfo(index)
	if !ok {
		http.Error(w, "no such line", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(r)
	if !ok {
		http.Error(w, "bad line index", http.StatusBadRequest)
		return
	}
	info, ok := s.lineInfo(index)
	if !ok {
		http.Error(w, "no such line", http.StatusNotFound)
		return
	}

	names, err := s.logWriter.ListLogs(info.Label)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(names)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(r)
	if !ok {
		http.Error(w, "bad line index", http.StatusBadRequest)
		return
	}
	info, ok := s.lineInfo(index)
	if !ok {
		http.Error(w, "no such line", http.StatusNotFound)
		return
	}

	filename := mux.Vars(r)["filename"]
	path := s.logWriter.GetLogPath(info.Label, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "log not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

// handleConsoleShow surfaces opcmd.Dispatcher's SHOW CONSOLE text over
// HTTP, for dashboards that would rather not open a Telnet session to the
// operator console just to inspect its keymap and line state.
func (s *Server) handleConsoleShow(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, s.dispatcher.Show())
}

// handleConsoleSet runs the POST body as a SET CONSOLE command line
// through opcmd.Dispatcher, the same entry point the operator's own
// console uses.
func (s *Server) handleConsoleSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code := s.dispatcher.Set(string(body))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if code != 0 {
		w.WriteHeader(http.StatusBadRequest)
	}
	io.WriteString(w, code.String())
}
