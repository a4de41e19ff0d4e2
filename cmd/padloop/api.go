package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/satindergrewal/padloop/internal/acestep"
	"github.com/satindergrewal/padloop/internal/audio"
	"github.com/satindergrewal/padloop/internal/engine"
	"github.com/satindergrewal/padloop/internal/soundgen"
)

// maxSampleBytes caps uploaded sample bodies.
const maxSampleBytes = 64 << 20

var errBadRequest = errors.New("bad request")

// API serves the JSON control surface of the engine.
type API struct {
	engine   *engine.Engine
	gen      *soundgen.Generator // nil when generation is disabled
	hub      *hub
	progress time.Duration
	status   func() map[string]any
}

func newAPI(e *engine.Engine, gen *soundgen.Generator, h *hub, progress time.Duration) *API {
	if progress <= 0 {
		progress = 50 * time.Millisecond
	}
	return &API{engine: e, gen: gen, hub: h, progress: progress}
}

func (a *API) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	mux.HandleFunc("GET /api/status", a.handleStatus)

	mux.HandleFunc("POST /api/pads/{id}/trigger", a.handleTrigger)
	mux.HandleFunc("POST /api/pads/{id}/stop", a.handlePadStop)
	mux.HandleFunc("POST /api/stop", a.handleStopAll)
	mux.HandleFunc("PATCH /api/pads/{id}/settings", a.handleSettings)
	mux.HandleFunc("PUT /api/pads/{id}/sample", a.handleUpload)
	mux.HandleFunc("GET /api/pads/{id}/sample", a.handleDownload)
	mux.HandleFunc("PUT /api/pads/{id}/synth", a.handleSynth)
	mux.HandleFunc("POST /api/pads/{id}/generate", a.handleGenerate)
	mux.HandleFunc("GET /api/generate", a.handleRecent)
	mux.HandleFunc("DELETE /api/pads/{id}", a.handleRemove)
	mux.HandleFunc("POST /api/keys", a.handleKey)
	mux.HandleFunc("POST /api/rate", a.handleRate)

	mux.HandleFunc("POST /api/record/start", a.handleRecordStart)
	mux.HandleFunc("POST /api/record/stop", a.handleRecordStop)

	mux.HandleFunc("GET /api/loops", a.handleLoops)
	mux.HandleFunc("GET /api/loops/{id}", a.handleLoop)
	mux.HandleFunc("PATCH /api/loops/{id}", a.handleRename)
	mux.HandleFunc("DELETE /api/loops/{id}", a.handleDeleteLoop)
	mux.HandleFunc("POST /api/loops/{id}/play", a.handlePlay)
	mux.HandleFunc("POST /api/loops/stop", a.handleLoopStop)
	mux.HandleFunc("POST /api/loops/repeat", a.handleRepeat)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var decErr *audio.DecodeError
	var provErr *acestep.ProviderError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &decErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &provErr):
		status = http.StatusBadGateway
	case errors.Is(err, engine.ErrUnknownPad), errors.Is(err, engine.ErrUnknownLoop):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalid), errors.Is(err, acestep.ErrInvalidRequest), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrPlaying), errors.Is(err, engine.ErrRecording), errors.Is(err, soundgen.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrPadEmpty), errors.Is(err, engine.ErrEmptyRecording):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, soundgen.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, errBadRequest)
	}
	return nil
}

func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- State ---

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := map[string]any{}
	if a.status != nil {
		st = a.status()
	}
	st["voices"] = a.engine.Voices().Count()
	st["voices_started"] = a.engine.Voices().Created()
	st["generation"] = a.gen != nil
	writeJSON(w, http.StatusOK, st)
}

// handleEvents streams snapshots as server-sent events: one on connect,
// one per engine change, and one per progress interval while a loop plays.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	updates, cancel := a.hub.subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	send := func() (engine.Snapshot, bool) {
		snap := a.engine.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			log.Printf("SSE: marshal snapshot: %v", err)
			return snap, false
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
			return snap, false
		}
		flusher.Flush()
		return snap, true
	}

	if _, alive := send(); !alive {
		return
	}
	ticker := time.NewTicker(a.progress)
	defer ticker.Stop()
	playing := false
	for {
		select {
		case <-r.Context().Done():
			return
		case <-updates:
		case <-ticker.C:
			if !playing {
				continue
			}
		}
		snap, alive := send()
		if !alive {
			return
		}
		playing = snap.Playback.LoopID != ""
	}
}

// --- Pads ---

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	padID := r.PathValue("id")
	id, err := a.engine.Trigger(padID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"padId": padID, "voice": id})
}

func (a *API) handlePadStop(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleStopAll(w http.ResponseWriter, r *http.Request) {
	a.engine.StopAll()
	ok(w)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	var upd engine.SettingsUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.engine.UpdateSettings(r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSampleBytes))
	if err != nil {
		writeError(w, fmt.Errorf("read sample: %v: %w", err, errBadRequest))
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("empty sample body: %w", errBadRequest))
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "upload"
	}
	padID := r.PathValue("id")
	if err := a.engine.Load(padID, data, filename); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "padId": padID, "filename": filename})
}

// handleDownload serves a sample pad's buffer as a WAV file.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	padID := r.PathValue("id")
	buf, filename, err := a.engine.Sample(padID)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := os.CreateTemp("", "padloop-*.wav")
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if err := audio.EncodeWAV(f, buf); err != nil {
		writeError(w, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(w, err)
		return
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name == "" || name == "." {
		name = padID
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, name))
	http.ServeContent(w, r, name+".wav", time.Time{}, f)
}

type synthRequest struct {
	Name        string    `json:"name"`
	Frequencies []float64 `json:"frequencies"`
	Waveform    string    `json:"waveform"`
	Arpeggio    bool      `json:"arpeggio"`
	StaggerMs   int       `json:"staggerMs"`
}

func (a *API) handleSynth(w http.ResponseWriter, r *http.Request) {
	var req synthRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	src := engine.SynthSource{
		Frequencies: req.Frequencies,
		Waveform:    engine.Waveform(strings.ToLower(req.Waveform)),
		Arpeggio:    req.Arpeggio,
		Stagger:     time.Duration(req.StaggerMs) * time.Millisecond,
	}
	if src.Arpeggio && src.Stagger <= 0 {
		src.Stagger = engine.DefaultStagger
	}
	if err := a.engine.SetSynth(r.PathValue("id"), req.Name, src); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if a.gen == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "sound generation disabled"})
		return
	}
	var req struct {
		Text     string `json:"text"`
		Duration int    `json:"duration"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job := soundgen.Job{PadID: r.PathValue("id"), Text: req.Text, DurationSeconds: req.Duration}
	if err := a.gen.Submit(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "padId": job.PadID})
}

func (a *API) handleRecent(w http.ResponseWriter, r *http.Request) {
	if a.gen == nil {
		writeJSON(w, http.StatusOK, []soundgen.Result{})
		return
	}
	writeJSON(w, http.StatusOK, a.gen.Recent())
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		Modifier bool   `json:"modifier"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	padID, id, err := a.engine.HandleKey(req.Key, req.Modifier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"padId": padID, "voice": id, "selected": req.Modifier})
}

func (a *API) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.engine.SetPlaybackRate(req.Rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rate": req.Rate})
}

// --- Recording and loops ---

func (a *API) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.StartRecording(); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.StopRecording()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loop": res.Loop, "events": res.Events})
}

func (a *API) handleLoops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Loops())
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	l, found := a.engine.Loop(r.PathValue("id"))
	if !found {
		writeError(w, fmt.Errorf("loop %s: %w", r.PathValue("id"), engine.ErrUnknownLoop))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.engine.RenameLoop(r.PathValue("id"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleDeleteLoop(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteLoop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.PlayLoop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) handleLoopStop(w http.ResponseWriter, r *http.Request) {
	a.engine.StopLoop()
	ok(w)
}

func (a *API) handleRepeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "repeat": a.engine.ToggleRepeat()})
}
