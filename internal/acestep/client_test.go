package acestep

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAPI mimics the release/query/download endpoints.
type fakeAPI struct {
	status   int // task status returned once polled
	polls    atomic.Int32
	mu       sync.Mutex
	lastReq  GenerateRequest
	audio    []byte
	fileRef  string
	authSeen string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /release_task", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authSeen = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&f.lastReq)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]string{"task_id": "task-1"},
		})
	})
	mux.HandleFunc("POST /query_result", func(w http.ResponseWriter, r *http.Request) {
		status := 0
		if f.polls.Add(1) > 1 {
			status = f.status
		}
		items, _ := json.Marshal([]resultItem{{File: f.fileRef, Status: 1}})
		json.NewEncoder(w).Encode(queryResp{
			Code: 200,
			Data: []taskResult{{TaskID: "task-1", Status: status, Result: string(items)}},
		})
	})
	mux.HandleFunc("GET /v1/audio", func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.audio)
	})
	return mux
}

func newFake(t *testing.T, f *fakeAPI, outputDir string) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", "secret", outputDir)
	c.SetPollInterval(time.Millisecond)
	return c
}

// --- Request validation ---

func TestNormalize(t *testing.T) {
	tests := []struct {
		req     SoundRequest
		wantDur int
		wantErr bool
	}{
		{SoundRequest{Text: "kick drum"}, DefaultDuration, false},
		{SoundRequest{Text: "snare", DurationSeconds: 30}, 30, false},
		{SoundRequest{Text: "   "}, 0, true},
		{SoundRequest{Text: "hat", DurationSeconds: 31}, 0, true},
		{SoundRequest{Text: "hat", DurationSeconds: -2}, 0, true},
	}
	for _, tt := range tests {
		got, err := tt.req.Normalize()
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Normalize(%+v) error = %v, want ErrInvalidRequest", tt.req, err)
			}
			continue
		}
		if err != nil || got.DurationSeconds != tt.wantDur {
			t.Errorf("Normalize(%+v) = (%+v, %v), want duration %d", tt.req, got, err, tt.wantDur)
		}
	}
}

func TestInvalidRequestIsNotSent(t *testing.T) {
	f := &fakeAPI{status: 1}
	c := newFake(t, f, "")
	if _, err := c.GenerateSound(context.Background(), SoundRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("GenerateSound error = %v, want ErrInvalidRequest", err)
	}
	if f.polls.Load() != 0 {
		t.Error("Invalid request reached the API")
	}
}

// --- Generation ---

func TestGenerateSoundDownloads(t *testing.T) {
	f := &fakeAPI{status: 1, audio: []byte("ID3fake"), fileRef: "/v1/audio?path=outputs/task-1/0.mp3"}
	c := newFake(t, f, "")

	data, err := c.GenerateSound(context.Background(), SoundRequest{Text: "rim shot"})
	if err != nil {
		t.Fatalf("GenerateSound: %v", err)
	}
	if string(data) != "ID3fake" {
		t.Errorf("Data = %q, want ID3fake", data)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastReq.Caption != "rim shot" || f.lastReq.Duration != DefaultDuration {
		t.Errorf("Sent %+v", f.lastReq)
	}
	if f.authSeen != "Bearer secret" {
		t.Errorf("Authorization = %q", f.authSeen)
	}
	if f.polls.Load() < 2 {
		t.Errorf("Polls = %d, want at least 2", f.polls.Load())
	}
}

func TestGenerateSoundReadsSharedVolume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outputs", "task-1", "0.mp3")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("local bytes"), 0644)

	f := &fakeAPI{status: 1, audio: []byte("remote bytes"), fileRef: "/v1/audio?path=outputs/task-1/0.mp3"}
	c := newFake(t, f, dir)

	data, err := c.GenerateSound(context.Background(), SoundRequest{Text: "clap", DurationSeconds: 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "local bytes" {
		t.Errorf("Data = %q, want shared volume bytes", data)
	}
}

func TestGenerateSoundTaskFailed(t *testing.T) {
	f := &fakeAPI{status: 2, fileRef: "/v1/audio?path=x"}
	c := newFake(t, f, "")

	_, err := c.GenerateSound(context.Background(), SoundRequest{Text: "gong"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Error = %v, want *ProviderError", err)
	}
	if perr.Op != "generate" {
		t.Errorf("Op = %q, want generate", perr.Op)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 500, "error": "queue full"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").Generate(context.Background(), GenerateRequest{Caption: "x"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Status != 500 || perr.Message != "queue full" {
		t.Errorf("Error = %v, want provider error code 500", err)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").Generate(context.Background(), GenerateRequest{Caption: "x"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Status != http.StatusBadGateway {
		t.Errorf("Error = %v, want provider error status 502", err)
	}
}

func TestPollHonoursContext(t *testing.T) {
	f := &fakeAPI{status: 0}
	c := newFake(t, f, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.PollUntilDone(ctx, "task-1", time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PollUntilDone error = %v, want deadline exceeded", err)
	}
}

func TestWaitForHealthy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "", "").WaitForHealthy(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("WaitForHealthy: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Health checks = %d, want 3", calls.Load())
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Op: "submit", Status: 500, Message: "queue full"}
	if got := err.Error(); got != "acestep submit (code 500): queue full" {
		t.Errorf("Error() = %q", got)
	}
}
