// Package soundgen fills pads with sounds generated from short text prompts.
package soundgen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/padloop/internal/acestep"
	"github.com/satindergrewal/padloop/internal/ollama"
)

var (
	ErrBusy      = errors.New("pad is already generating")
	ErrQueueFull = errors.New("generation queue is full")
)

// Provider turns a request into encoded audio bytes.
type Provider interface {
	GenerateSound(ctx context.Context, req acestep.SoundRequest) ([]byte, error)
}

// Expander rewrites a short prompt into a caption and a pad name.
type Expander interface {
	Expand(ctx context.Context, text string) ollama.Expansion
}

// Target is the pad registry generated sounds are loaded into.
type Target interface {
	SetGenerating(padID string, generating bool) error
	Load(padID string, data []byte, filename string) error
}

// Config holds generator parameters.
type Config struct {
	DefaultSeconds int // used when a job asks for zero
	Workers        int
	QueueSize      int
	ExpandTimeout  time.Duration
}

// Job asks for a sound to be generated into a pad.
type Job struct {
	PadID           string `json:"padId"`
	Text            string `json:"text"`
	DurationSeconds int    `json:"duration,omitempty"`
}

// Result is the outcome of one job.
type Result struct {
	PadID    string    `json:"padId"`
	Text     string    `json:"text"`
	Caption  string    `json:"caption,omitempty"`
	Name     string    `json:"name,omitempty"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

const recentResults = 16

// Generator runs generation jobs on a small worker pool. The pad stays
// marked as generating, and cannot be triggered if it was empty, until its
// job resolves.
type Generator struct {
	provider Provider
	target   Target
	cfg      Config

	jobs chan Job

	mu       sync.Mutex
	expander Expander
	busy     map[string]bool
	recent   []Result
}

// New creates a generator. Call Run to start the workers.
func New(provider Provider, target Target, cfg Config) *Generator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.ExpandTimeout <= 0 {
		cfg.ExpandTimeout = 15 * time.Second
	}
	if cfg.DefaultSeconds <= 0 {
		cfg.DefaultSeconds = acestep.DefaultDuration
	}
	return &Generator{
		provider: provider,
		target:   target,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
		busy:     make(map[string]bool),
	}
}

// SetExpander sets the optional prompt expander. Pass nil to use static captions.
func (g *Generator) SetExpander(x Expander) {
	g.mu.Lock()
	g.expander = x
	g.mu.Unlock()
}

// Submit validates a job, marks its pad as generating and queues it.
func (g *Generator) Submit(job Job) error {
	if job.DurationSeconds == 0 {
		job.DurationSeconds = g.cfg.DefaultSeconds
	}
	req, err := acestep.SoundRequest{Text: job.Text, DurationSeconds: job.DurationSeconds}.Normalize()
	if err != nil {
		return err
	}
	job.Text, job.DurationSeconds = req.Text, req.DurationSeconds

	g.mu.Lock()
	if g.busy[job.PadID] {
		g.mu.Unlock()
		return fmt.Errorf("generate %s: %w", job.PadID, ErrBusy)
	}
	if err := g.target.SetGenerating(job.PadID, true); err != nil {
		g.mu.Unlock()
		return err
	}
	g.busy[job.PadID] = true
	g.mu.Unlock()

	select {
	case g.jobs <- job:
		log.Printf("Queued generation for %s: %q (%ds)", job.PadID, job.Text, job.DurationSeconds)
		return nil
	default:
		g.release(job.PadID)
		return fmt.Errorf("generate %s: %w", job.PadID, ErrQueueFull)
	}
}

func (g *Generator) release(padID string) {
	g.mu.Lock()
	delete(g.busy, padID)
	g.mu.Unlock()
	g.target.SetGenerating(padID, false)
}

// Run starts the workers and blocks until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	log.Printf("Sound generator started (%d workers)", g.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < g.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-g.jobs:
					g.Generate(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
}

// Generate runs one job to completion. Provider and decode failures leave
// the pad's previous contents in place.
func (g *Generator) Generate(ctx context.Context, job Job) Result {
	res := Result{PadID: job.PadID, Text: job.Text}
	defer func() {
		res.Finished = time.Now()
		g.release(job.PadID)
		g.remember(res)
	}()

	g.mu.Lock()
	expander := g.expander
	g.mu.Unlock()

	res.Caption = Caption(job.Text)
	res.Name = ollama.FallbackName(job.Text)
	if expander != nil {
		xctx, cancel := context.WithTimeout(ctx, g.cfg.ExpandTimeout)
		exp := expander.Expand(xctx, job.Text)
		cancel()
		if exp.Caption != "" && exp.Caption != job.Text {
			res.Caption = exp.Caption
		}
		if exp.Name != "" {
			res.Name = exp.Name
		}
	}

	data, err := g.provider.GenerateSound(ctx, acestep.SoundRequest{Text: res.Caption, DurationSeconds: job.DurationSeconds})
	if err != nil {
		log.Printf("Generation for %s failed: %v", job.PadID, err)
		res.Error = err.Error()
		return res
	}

	if err := g.target.Load(job.PadID, data, res.Name+".mp3"); err != nil {
		log.Printf("Generated audio for %s unusable: %v", job.PadID, err)
		res.Error = err.Error()
		return res
	}
	log.Printf("Generated %q into %s", res.Name, job.PadID)
	return res
}

func (g *Generator) remember(res Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = append(g.recent, res)
	if len(g.recent) > recentResults {
		g.recent = g.recent[len(g.recent)-recentResults:]
	}
}

// Recent returns the latest results, oldest first.
func (g *Generator) Recent() []Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Result(nil), g.recent...)
}

// Busy reports whether a pad has a job queued or running.
func (g *Generator) Busy(padID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy[padID]
}
