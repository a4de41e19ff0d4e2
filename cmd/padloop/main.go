package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/padloop/internal/acestep"
	"github.com/satindergrewal/padloop/internal/audio"
	"github.com/satindergrewal/padloop/internal/config"
	"github.com/satindergrewal/padloop/internal/control"
	"github.com/satindergrewal/padloop/internal/engine"
	"github.com/satindergrewal/padloop/internal/ollama"
	"github.com/satindergrewal/padloop/internal/soundgen"
	"github.com/satindergrewal/padloop/internal/speaker"
	"github.com/satindergrewal/padloop/internal/stream"
	"github.com/satindergrewal/padloop/internal/tui"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The terminal UI owns the screen, so logs go to a file instead
	if cfg.TUI {
		logPath := filepath.Join(os.TempDir(), "padloop.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
		fmt.Printf("padloop: logging to %s\n", logPath)
	}

	log.Println("padloop starting up...")

	// Engine
	var store *engine.LoopStore
	if cfg.LoopsFile != "" {
		store = engine.NewLoopStore(cfg.LoopsFile)
	}
	eng, err := engine.New(engine.Options{
		TrailingBuffer: cfg.TrailingBuffer,
		RepeatPolicy:   engine.ParseRepeatPolicy(cfg.RepeatPolicy),
		PlaybackRate:   cfg.PlaybackRate,
		Store:          store,
	})
	if err != nil {
		log.Fatalf("Engine init failed: %v", err)
	}

	if cfg.SamplesDir != "" {
		n, err := loadSamples(eng, cfg.SamplesDir)
		if err != nil {
			log.Printf("Loading samples failed: %v", err)
		} else {
			log.Printf("Loaded %d samples", n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	updates := newHub()
	g.Go(func() error {
		updates.run(gctx, eng.Updates())
		return nil
	})

	// Audio pipeline: engine mix -> broadcaster -> listeners
	pipeline := audio.NewPipeline(eng)
	g.Go(func() error {
		pipeline.Run(gctx)
		return nil
	})
	broadcaster := stream.NewBroadcaster()
	g.Go(func() error {
		broadcaster.Run(gctx, pipeline.Frames())
		return nil
	})
	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	if cfg.Speaker {
		spk, err := speaker.New(broadcaster)
		if err != nil {
			log.Printf("Local speaker unavailable: %v", err)
		} else {
			spk.Start()
			defer spk.Close()
		}
	}

	// Sound generation
	var gen *soundgen.Generator
	if cfg.ACEStepAPIURL != "" {
		client := acestep.NewClient(cfg.ACEStepAPIURL, cfg.ACEStepAPIKey, cfg.ACEStepOutputDir)
		gen = soundgen.New(client, eng, soundgen.Config{
			DefaultSeconds: cfg.GenerateSeconds,
			Workers:        cfg.GenerateWorkers,
		})
		g.Go(func() error {
			// Pads stay playable while the provider warms up
			if err := client.WaitForHealthy(gctx, 5*time.Second); err != nil && gctx.Err() == nil {
				log.Printf("ACE-Step not available: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			gen.Run(gctx)
			return nil
		})

		// Ollama LLM (optional -- expands short prompts and names pads)
		if cfg.OllamaURL != "" {
			ollamaClient := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
			g.Go(func() error {
				readyCtx, readyCancel := context.WithTimeout(gctx, 30*time.Second)
				defer readyCancel()
				if ollamaClient.WaitForReady(readyCtx, 2*time.Second) {
					gen.SetExpander(ollama.NewPromptExpander(ollamaClient))
					log.Printf("Ollama connected: %s (prompt expansion enabled)", cfg.OllamaModel)
				} else {
					log.Println("Ollama not available, using static captions")
				}
				return nil
			})
		} else {
			log.Println("Ollama not configured (set OLLAMA_URL to enable prompt expansion)")
		}
	}

	// Control surfaces
	if cfg.OSCAddr != "" {
		oscServer := control.NewOSCServer(eng)
		g.Go(func() error {
			if err := oscServer.Serve(gctx, cfg.OSCAddr); err != nil {
				log.Printf("OSC control stopped: %v", err)
			}
			return nil
		})
	}
	if cfg.MIDIPort != "" {
		midiIn := control.NewMIDIInput(eng, cfg.MIDIBaseNote)
		if err := midiIn.Open(cfg.MIDIPort); err != nil {
			log.Printf("MIDI input unavailable: %v", err)
		} else {
			defer midiIn.Close()
		}
	}

	// HTTP routes
	api := newAPI(eng, gen, updates, cfg.ProgressInterval)
	api.status = func() map[string]any {
		rendered, dropped, uptime := pipeline.Status()
		return map[string]any{
			"frames_rendered":  rendered,
			"frames_dropped":   dropped,
			"uptime":           uptime.Seconds(),
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
		}
	}

	mux := http.NewServeMux()
	api.routes(mux)
	mux.Handle("/stream", stream.NewMP3Handler(broadcaster, 192, "padloop"))
	mux.Handle("/offer", webrtcHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}
	g.Go(func() error {
		log.Printf("padloop live on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		eng.StopAll()
		webrtcHandler.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.TUI {
		g.Go(func() error {
			ch, unsubscribe := updates.subscribe()
			defer unsubscribe()
			p := tea.NewProgram(tui.NewModel(eng, ch, cfg.ProgressInterval), tea.WithAltScreen(), tea.WithContext(gctx))
			_, err := p.Run()
			// Quitting the UI stops the whole process
			cancel()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal UI: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("padloop stopped: %v", err)
	}
}
