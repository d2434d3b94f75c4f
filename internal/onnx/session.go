package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Graph names the pipeline expects in a synthesis bundle manifest.
const (
	GraphDurationPredictor = "duration_predictor"
	GraphTextEncoder       = "text_encoder"
	GraphLatentRefiner     = "latent_refiner"
	GraphVocoder           = "vocoder"
	GraphRecognizer        = "recognizer"
)

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Session is the manifest-level description of one serialized graph.
type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// Manifest maps graph names to on-disk sessions for one model bundle.
type Manifest struct {
	sessions map[string]Session
	order    []string
}

type bundleManifest struct {
	Graphs []bundleGraph `json:"graphs"`
}

type bundleGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// LoadManifest reads a bundle manifest and resolves session file paths
// relative to the manifest location.
func LoadManifest(manifestPath string) (*Manifest, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read bundle manifest: %w", err)
	}

	var manifest bundleManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode bundle manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return nil, errors.New("bundle manifest has no graphs")
	}

	baseDir := filepath.Dir(manifestPath)
	m := &Manifest{
		sessions: make(map[string]Session, len(manifest.Graphs)),
		order:    make([]string, 0, len(manifest.Graphs)),
	}

	for _, g := range manifest.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if _, exists := m.sessions[g.Name]; exists {
			return nil, fmt.Errorf("duplicate session name %q in manifest", g.Name)
		}

		sessionPath := g.Filename
		if !filepath.IsAbs(sessionPath) {
			sessionPath = filepath.Join(baseDir, g.Filename)
		}

		sessionPath = filepath.Clean(sessionPath)
		if _, err := os.Stat(sessionPath); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", g.Name, err)
		}

		session := Session{
			Name:    g.Name,
			Path:    sessionPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		}
		m.sessions[g.Name] = session
		m.order = append(m.order, g.Name)

		slog.Debug(
			"manifest session",
			"name", g.Name,
			"path", sessionPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return m, nil
}

func (m *Manifest) Session(name string) (Session, bool) {
	s, ok := m.sessions[name]
	return s, ok
}

// RequireSession is Session with a descriptive error for the missing case.
func (m *Manifest) RequireSession(name string) (Session, error) {
	s, ok := m.sessions[name]
	if !ok {
		return Session{}, fmt.Errorf("bundle manifest has no %q graph", name)
	}
	return s, nil
}

func (m *Manifest) Sessions() []Session {
	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		s := m.sessions[name]
		s.Inputs = append([]NodeInfo(nil), s.Inputs...)
		s.Outputs = append([]NodeInfo(nil), s.Outputs...)
		out = append(out, s)
	}

	return out
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
