// Package server provides the local library viewer: catalog list, paper
// detail with the rendered note, and citation neighbors.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/graph"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for browsing the paper library.
type Server struct {
	db    *catalog.DB
	graph *graph.Builder
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *catalog.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"join":     strings.Join,
	}

	// Parse base template first, then clone it per page so each page
	// gets its own {{define "content"}} and {{define "title"}}.
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"index.html", "paper.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, graph: graph.NewBuilder(db), pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/paper/", s.handlePaper)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	filter := catalog.Filter{Source: r.URL.Query().Get("source")}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []catalog.State{catalog.State(state)}
	}

	papers, err := s.db.List(filter)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.Stats()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Papers":      papers,
		"Stats":       stats,
		"StateFilter": r.URL.Query().Get("state"),
		"SourceFilter": r.URL.Query().Get("source"),
	})
}

func (s *Server) handlePaper(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/paper/")
	if key == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	paper, err := s.db.Get(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	note := ""
	if paper.NotePath != "" {
		if data, err := os.ReadFile(paper.NotePath); err == nil {
			note = stripFrontMatter(string(data))
		}
	}

	cites, _ := s.graph.Neighbors(key, graph.Outgoing)
	citedBy, _ := s.graph.Neighbors(key, graph.Incoming)

	s.render(w, "paper.html", map[string]any{
		"Paper":   paper,
		"Note":    note,
		"Cites":   cites,
		"CitedBy": citedBy,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// stripFrontMatter removes a leading YAML front-matter block so the
// markdown renderer does not show it as a broken table.
func stripFrontMatter(text string) string {
	if !strings.HasPrefix(text, "---\n") {
		return text
	}
	rest := text[4:]
	if i := strings.Index(rest, "\n---\n"); i >= 0 {
		return rest[i+5:]
	}
	return text
}

// Serve starts the HTTP server on the given port.
func Serve(db *catalog.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
