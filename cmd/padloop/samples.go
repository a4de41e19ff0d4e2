package main

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/satindergrewal/padloop/internal/audio"
	"github.com/satindergrewal/padloop/internal/engine"
)

var sampleExts = map[string]bool{".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".aif": true, ".aiff": true}

// loadSamples fills the empty pads, in grid order, with the audio files in
// dir sorted by name. Files that fail to decode are skipped.
func loadSamples(e *engine.Engine, dir string) (int, error) {
	log.Printf("Loading samples from %s", dir)
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return 0, fmt.Errorf("listing samples: %w", err)
	}
	var files []string
	for _, m := range matches {
		if sampleExts[strings.ToLower(filepath.Ext(m))] {
			files = append(files, m)
		}
	}
	sort.Strings(files)

	var empty []string
	for _, p := range e.Snapshot().Pads {
		if p.Kind == "empty" {
			empty = append(empty, p.ID)
		}
	}

	loaded := 0
	for i, path := range files {
		if loaded >= len(empty) {
			log.Printf("No empty pads left, skipping %d more files", len(files)-i)
			break
		}
		buf, err := audio.DecodeFile(path)
		if err != nil {
			log.Printf("Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		if err := e.SetSample(empty[loaded], buf, filepath.Base(path)); err != nil {
			log.Printf("Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		loaded++
	}
	return loaded, nil
}
