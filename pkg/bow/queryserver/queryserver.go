// Package queryserver implements the line-based query protocol: accept
// a connection, read commands (`,HITS <n>`, `;INDEX <path>`,
// `;DELETE <path>`, `;ARCHIVE`, `;QUIT`) or a bare query line, and
// answer queries with a `,HITCOUNT <n>` header followed by one
// `<path> <score> <terms>` line per hit and a terminating `.`.
//
// A forking query server is replaced here by one goroutine per
// connection, each with its own queryengine.PVOpener-backed read
// cursors, instead of relying on per-fork `lseek` against a shared file
// position — the same Config/New/ListenAndServe/Serve/Shutdown
// lifecycle and one-goroutine-per-connection shape any long-lived
// line-oriented TCP server in Go follows.
package queryserver

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/lexer"
	"github.com/cognicore/bow/pkg/bow/queryengine"
	"github.com/cognicore/bow/pkg/bow/session"
)

// DefaultHits is the number of hits returned for a query when the
// connection never sends `,HITS`.
const DefaultHits = 10

// Archiver persists the in-memory barrel/dictionary to the data
// directory; ;ARCHIVE and ;QUIT invoke it. Typically
// datadir.Save bound to the server's directory path.
type Archiver func(d *dict.Dict, b *barrel.Barrel) error

// Config configures a Server.
type Config struct {
	Barrel  *barrel.Barrel
	Dict    *dict.Dict
	Session *session.Session
	Lexer   lexer.Lexer

	// PhraseOpen backs queryengine.MatchPhrase for phrase atoms; nil
	// disables phrase matching (single-term atoms still work).
	PhraseOpen queryengine.PVOpener

	// Mode selects raw-count or log-rescaled scoring
	// (`--score-is-raw-count` on the CLI).
	Mode queryengine.Mode

	Archive Archiver
	Logger  *log.Logger
}

// Server accepts connections on a net.Listener and serves the query
// protocol against one shared barrel/dictionary, guarded by mu since
// each connection runs on its own goroutine. The single-indexing-thread
// assumption is upheld by serializing every command through this lock
// rather than by giving each connection its own barrel.
type Server struct {
	cfg Config
	log *log.Logger

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a Server from cfg. A nil cfg.Logger discards output.
func New(cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = log.New(nopWriter{}, "", 0)
	}
	return &Server{cfg: cfg, log: l}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// ListenAndServe listens on addr and serves until the listener is
// closed (by Shutdown, or a ;QUIT causing the caller to stop it).
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("queryserver: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, handling each on its own goroutine,
// until ln.Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	s.log.Printf("query server listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown closes the listener and waits for in-flight connections to
// finish their current command.
func (s *Server) Shutdown() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	id := uuid.New()
	s.log.Printf("[%s] connection from %s", id, conn.RemoteAddr())

	hits := DefaultHits
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), 1<<20)
	w := bufio.NewWriter(conn)

	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ",HITS"):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ",HITS"))); err == nil && n > 0 {
				hits = n
			}
		case strings.HasPrefix(line, ";INDEX "):
			s.handleIndex(id, strings.TrimSpace(strings.TrimPrefix(line, ";INDEX ")))
		case strings.HasPrefix(line, ";DELETE "):
			s.handleDelete(id, strings.TrimSpace(strings.TrimPrefix(line, ";DELETE ")))
		case line == ";ARCHIVE":
			s.handleArchive(id)
		case line == ";QUIT":
			s.handleArchive(id)
			w.Flush()
			return
		case strings.TrimSpace(line) == "":
			// blank lines between commands are ignored
		default:
			s.answerQuery(id, w, line, hits)
		}
		w.Flush()
	}
	if err := sc.Err(); err != nil {
		s.log.Printf("[%s] read error: %v", id, err)
	}
	s.log.Printf("[%s] connection closed", id)
}

func (s *Server) handleIndex(id uuid.UUID, spec string) {
	fields := strings.Fields(spec)
	if len(fields) < 2 {
		s.log.Printf("[%s] ;INDEX requires `<path> <class>`, got %q", id, spec)
		return
	}
	path, class := fields[0], fields[1]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cfg.Barrel.AddOne(path, class, s.cfg.Lexer, s.cfg.Dict, s.cfg.Session); err != nil {
		s.log.Printf("[%s] ;INDEX %s: %v", id, path, err)
	}
}

func (s *Server) handleDelete(id uuid.UUID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Barrel.DeleteByFilename(path) {
		s.log.Printf("[%s] ;DELETE %s: no such document", id, path)
	}
}

func (s *Server) handleArchive(id uuid.UUID) {
	if s.cfg.Archive == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cfg.Archive(s.cfg.Dict, s.cfg.Barrel); err != nil {
		s.log.Printf("[%s] archive: %v", id, err)
	}
}

func (s *Server) answerQuery(id uuid.UUID, w *bufio.Writer, query string, hits int) {
	atoms, truncated, err := queryengine.ParseQuery(query)
	if err != nil {
		fmt.Fprintf(w, ",HITCOUNT 0\n.\n")
		return
	}
	if truncated {
		s.log.Printf("[%s] query truncated to %d atoms", id, queryengine.MaxAtoms)
	}

	s.mu.Lock()
	results, err := queryengine.Execute(s.cfg.Barrel, s.cfg.Dict, atoms, s.cfg.PhraseOpen, s.cfg.Mode)
	matches := matchingTermsByDoc(s.cfg.Barrel, s.cfg.Dict, atoms, results)
	docs := s.cfg.Barrel.Docs
	s.mu.Unlock()

	if err != nil {
		s.log.Printf("[%s] query %q: %v", id, query, err)
		fmt.Fprintf(w, ",HITCOUNT 0\n.\n")
		return
	}
	if len(results) > hits {
		results = results[:hits]
	}

	fmt.Fprintf(w, ",HITCOUNT %d\n", len(results))
	for _, hit := range results {
		name := ""
		if int(hit.Doc) < len(docs) {
			name = docs[hit.Doc].Filename
		}
		fmt.Fprintf(w, "%s %g %s\n", name, hit.Score, strings.Join(matches[hit.Doc], ","))
	}
	fmt.Fprintf(w, ".\n")
}

// matchingTermsByDoc reports, for every hit document, which non
// -forbidden atom terms it actually contains — the response format's
// "matching-terms-comma-separated" field. Computed separately from
// queryengine.Execute (whose Hit carries only a score) by re-probing
// the WI2DVF for each resolved term.
func matchingTermsByDoc(b *barrel.Barrel, d *dict.Dict, atoms []queryengine.Atom, hits []queryengine.Hit) map[int64][]string {
	out := make(map[int64][]string, len(hits))
	docSet := make(map[int64]bool, len(hits))
	for _, h := range hits {
		docSet[h.Doc] = true
	}
	for _, atom := range atoms {
		if atom.Kind == queryengine.Forbidden {
			continue
		}
		for _, term := range atom.Terms {
			lookup := term
			if atom.Field != "" {
				lookup = term + "xxx" + atom.Field
			}
			id, ok := d.Lookup(lookup)
			if !ok {
				continue
			}
			vec, ok, err := b.Index.Vector(id)
			if err != nil || !ok {
				continue
			}
			for _, e := range vec {
				if docSet[e.Doc] {
					out[e.Doc] = append(out[e.Doc], term)
				}
			}
		}
	}
	for doc, terms := range out {
		sort.Strings(terms)
		out[doc] = dedupe(terms)
	}
	return out
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i == 0 || s != prev {
			out = append(out, s)
			prev = s
		}
	}
	return out
}
