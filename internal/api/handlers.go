package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/reassembly"
	"firestige.xyz/wirecat/internal/export"
	"firestige.xyz/wirecat/internal/filter"
	"firestige.xyz/wirecat/internal/sink"
)

// Capture is the capture session the API drives.
type Capture interface {
	Device() string
	State() capture.State
	Start()
	Stop()
	Clear()
	PacketCount() int
	Packets(expr string) ([]*core.DecodedPacket, error)
	Packet(seq uint64) (*core.DecodedPacket, error)
	Reassemble(seq uint64) (*reassembly.Result, error)
	FragmentGroups() []reassembly.GroupInfo
	Export(w io.Writer) error
	SaveInExportDir(name string) (string, error)
}

// NewRouter returns the API routes for c.
func NewRouter(c Capture) *mux.Router {
	h := &handler{capture: c}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/capture/state", h.state).Methods(http.MethodGet)
	v1.HandleFunc("/capture/start", h.start).Methods(http.MethodPost)
	v1.HandleFunc("/capture/stop", h.stop).Methods(http.MethodPost)
	v1.HandleFunc("/capture/clear", h.clear).Methods(http.MethodPost)

	v1.HandleFunc("/filter/check", h.checkFilter).Methods(http.MethodGet)
	v1.HandleFunc("/packets", h.packets).Methods(http.MethodGet)
	v1.HandleFunc("/packets/{seq:[0-9]+}", h.packet).Methods(http.MethodGet)
	v1.HandleFunc("/packets/{seq:[0-9]+}/reassemble", h.reassemble).Methods(http.MethodGet)
	v1.HandleFunc("/reassembly/groups", h.groups).Methods(http.MethodGet)

	v1.HandleFunc("/export", h.export).Methods(http.MethodGet)
	v1.HandleFunc("/export/save", h.save).Methods(http.MethodPost)

	return r
}

type handler struct {
	capture Capture
}

type stateResponse struct {
	Device  string `json:"device"`
	State   string `json:"state"`
	Packets int    `json:"packets"`
}

type packetsResponse struct {
	Count   int            `json:"count"`
	Packets []sink.Summary `json:"packets"`
}

type packetResponse struct {
	sink.Summary
	Dump string `json:"dump"`
}

type reassembleResponse struct {
	Status       string           `json:"status"`
	Group        string           `json:"group"`
	Fragments    int              `json:"fragments"`
	TotalLength  int              `json:"total_length"`
	MissingBytes int              `json:"missing_bytes,omitempty"`
	Gaps         []reassembly.Gap `json:"gaps,omitempty"`
	Inconsistent bool             `json:"inconsistent"`
	Dump         string           `json:"dump,omitempty"`
}

type groupResponse struct {
	Group        string    `json:"group"`
	Fragments    int       `json:"fragments"`
	TotalLength  int       `json:"total_length"`
	Complete     bool      `json:"complete"`
	Inconsistent bool      `json:"inconsistent"`
	LastTouched  time.Time `json:"last_touched"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Device:  h.capture.Device(),
		State:   h.capture.State().String(),
		Packets: h.capture.PacketCount(),
	})
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	h.capture.Start()
	h.state(w, r)
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	h.capture.Stop()
	h.state(w, r)
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	h.capture.Clear()
	h.state(w, r)
}

func (h *handler) checkFilter(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expr")
	resp := map[string]any{"valid": filter.Check(expr)}
	if _, err := filter.Compile(expr); err != nil && !errors.Is(err, core.ErrHelp) {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) packets(w http.ResponseWriter, r *http.Request) {
	pkts, err := h.capture.Packets(r.URL.Query().Get("filter"))
	switch {
	case errors.Is(err, core.ErrHelp):
		writeJSON(w, http.StatusOK, map[string]string{"help": filter.Help()})
		return
	case errors.Is(err, core.ErrSyntax):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := packetsResponse{Count: len(pkts), Packets: make([]sink.Summary, len(pkts))}
	for i, pkt := range pkts {
		resp.Packets[i] = sink.Summarize(pkt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) packet(w http.ResponseWriter, r *http.Request) {
	pkt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, packetResponse{Summary: sink.Summarize(pkt), Dump: export.Dump(pkt.Raw)})
}

func (h *handler) reassemble(w http.ResponseWriter, r *http.Request) {
	pkt, ok := h.lookup(w, r)
	if !ok {
		return
	}

	res, err := h.capture.Reassemble(pkt.Seq)
	switch {
	case errors.Is(err, core.ErrNotIPv4), errors.Is(err, core.ErrNotFragmented):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, core.ErrIncompleteGroup):
		writeJSON(w, http.StatusAccepted, toReassembleResponse(res))
		return
	case errors.Is(err, core.ErrReassemblyLimit):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := toReassembleResponse(res)
	resp.Dump = export.Dump(res.Datagram)
	writeJSON(w, http.StatusOK, resp)
}

func toReassembleResponse(res *reassembly.Result) reassembleResponse {
	return reassembleResponse{
		Status:       res.Status.String(),
		Group:        res.Key.String(),
		Fragments:    res.Fragments,
		TotalLength:  res.TotalLength,
		MissingBytes: res.MissingBytes,
		Gaps:         res.Gaps,
		Inconsistent: res.Inconsistent,
	}
}

func (h *handler) groups(w http.ResponseWriter, r *http.Request) {
	groups := h.capture.FragmentGroups()
	resp := make([]groupResponse, len(groups))
	for i, g := range groups {
		resp[i] = groupResponse{
			Group:        g.Key.String(),
			Fragments:    g.Fragments,
			TotalLength:  g.TotalLength,
			Complete:     g.Complete,
			Inconsistent: g.Inconsistent,
			LastTouched:  g.LastTouched,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DefaultFileName(time.Now())))
	w.WriteHeader(http.StatusOK)
	if err := h.capture.Export(w); err != nil {
		slog.Warn("export failed", "error", err)
	}
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	path, err := h.capture.SaveInExportDir(r.URL.Query().Get("path"))
	if errors.Is(err, core.ErrExportPath) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// lookup resolves the {seq} route variable, writing 404 when it is unknown.
func (h *handler) lookup(w http.ResponseWriter, r *http.Request) (*core.DecodedPacket, bool) {
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad sequence number: %w", err))
		return nil, false
	}
	pkt, err := h.capture.Packet(seq)
	if errors.Is(err, core.ErrPacketNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return pkt, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
