// rainbow is the retrieval and text-classification front end: index a
// class-labeled directory tree into a data directory, run one-shot
// retrieval queries or a line-protocol query server against it, train
// and evaluate vector-per-class classifiers, and compact the on-disk
// position-vector segments.
//
// The data directory defaults to $HOME/.bow, overridable everywhere
// with --data-dir.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	mrand "math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/classbarrel"
	"github.com/cognicore/bow/pkg/bow/compact"
	"github.com/cognicore/bow/pkg/bow/config"
	"github.com/cognicore/bow/pkg/bow/datadir"
	"github.com/cognicore/bow/pkg/bow/datadir/docsstore"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/em"
	"github.com/cognicore/bow/pkg/bow/feature"
	"github.com/cognicore/bow/pkg/bow/lexer"
	"github.com/cognicore/bow/pkg/bow/posting"
	"github.com/cognicore/bow/pkg/bow/queryengine"
	"github.com/cognicore/bow/pkg/bow/queryserver"
	"github.com/cognicore/bow/pkg/bow/scorer"
	"github.com/cognicore/bow/pkg/bow/session"
	"github.com/cognicore/bow/pkg/bow/smoothing"
	"github.com/cognicore/bow/pkg/bow/tagging"
)

const usage = `usage: rainbow <command> [flags]

commands:
  index     build a data directory from a class-labeled tree or listing file
  query     run one retrieval query against a data directory
  serve     answer the line-based query protocol on a TCP port
  classify  train a class barrel and evaluate test documents
  compact   merge PV segment chains and reclaim hidden index terms

run 'rainbow <command> -h' for per-command flags
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	logger := newLogger()
	var err error
	switch os.Args[1] {
	case "index":
		err = cmdIndex(logger, os.Args[2:])
	case "query":
		err = cmdQuery(logger, os.Args[2:])
	case "serve":
		err = cmdServe(logger, os.Args[2:])
	case "classify":
		err = cmdClassify(logger, os.Args[2:])
	case "compact":
		err = cmdCompact(logger, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "rainbow: unknown command %q\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal(err)
	}
}

// newLogger keeps terminal output terse and adds timestamps only when
// stderr is redirected to a file or pipe.
func newLogger() *log.Logger {
	flags := log.LstdFlags
	if isatty.IsTerminal(os.Stderr.Fd()) {
		flags = 0
	}
	return log.New(os.Stderr, "rainbow: ", flags)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bow"
	}
	return filepath.Join(home, ".bow")
}

// lexFlags is the lexer selection shared by every subcommand that
// lexes document text: index, serve (;INDEX), and classify (test-doc
// re-lexing).
type lexFlags struct {
	stoplist string
	html     bool
	pipeCmd  string
}

func (lf *lexFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&lf.stoplist, "stoplist", "", "file of stopwords, one per line")
	fs.BoolVar(&lf.html, "html", false, "strip HTML markup before tokenizing")
	fs.StringVar(&lf.pipeCmd, "lex-pipe-command", "", "external tokenizer command (RAINBOW_LEX_FILENAME is exported to it)")
}

func (lf *lexFlags) build() (lexer.Lexer, error) {
	if lf.pipeCmd != "" {
		return &lexer.Pipe{Command: lf.pipeCmd}, nil
	}
	var stopwords []string
	if lf.stoplist != "" {
		data, err := os.ReadFile(lf.stoplist)
		if err != nil {
			return nil, fmt.Errorf("reading stoplist: %w", err)
		}
		stopwords = strings.Fields(string(data))
	}
	simple := lexer.NewSimple(stopwords)
	if lf.html {
		return lexer.NewHTML(simple), nil
	}
	return simple, nil
}

func cmdIndex(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory to write")
	listFile := fs.String("list-file", "", "listing file (`path class1 [class2 ...]` per line) instead of a directory tree")
	pruneBelow := fs.Int64("prune-by-occurrence", 0, "two-pass build: drop terms occurring fewer than N times")
	infogainTop := fs.Int("infogain-top", 0, "hide all but the top N terms by information gain")
	seed := fs.Int64("seed", 1, "random seed for list-file primary-class choice and split rules")
	configPath := fs.String("config", "", "YAML session config (split/tag rules)")
	docsDB := fs.Bool("docs-db", false, "also write per-document metadata to the sqlite docs store")
	var lf lexFlags
	lf.register(fs)
	fs.Parse(args)

	sourceDir := fs.Arg(0)
	if sourceDir == "" && *listFile == "" {
		return fmt.Errorf("index: a source directory argument or --list-file is required")
	}

	lex, err := lf.build()
	if err != nil {
		return err
	}
	sess := session.New(false).WithLogger(logger)
	d := sess.Dict
	start := time.Now()

	// Two-pass mode: lex everything once to accumulate occurrence
	// counts, prune, freeze, then rebuild with the final ids.
	if *pruneBelow > 0 {
		pass1 := barrel.New(false)
		if sourceDir != "" {
			if _, err := pass1.AddFromTextDir(sourceDir, lex, d, sess, barrel.BuildOptions{}); err != nil {
				return fmt.Errorf("index: occurrence-count pass: %w", err)
			}
		} else {
			rng := mrand.New(mrand.NewSource(*seed))
			if _, err := pass1.AddFromListFile(*listFile, lex, d, sess, rng); err != nil {
				return fmt.Errorf("index: occurrence-count pass: %w", err)
			}
		}
		before := d.Size()
		pruned, _ := barrel.PruneByOccurrence(d, *pruneBelow)
		pruned.Freeze()
		logger.Printf("pruned vocabulary %s -> %s terms (min occurrence %d)",
			humanize.Comma(int64(before)), humanize.Comma(int64(pruned.Size())), *pruneBelow)
		d = pruned
		sess.Dict = d
	}

	if err := datadir.Create(*dataDir); err != nil {
		return err
	}
	store, err := datadir.OpenPV(*dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	b := barrel.New(false)
	b.PVs = posting.NewSet()
	b.PVStore = store

	var count int
	if sourceDir != "" {
		count, err = b.AddFromTextDir(sourceDir, lex, d, sess, barrel.BuildOptions{})
	} else {
		rng := mrand.New(mrand.NewSource(*seed))
		count, err = b.AddFromListFile(*listFile, lex, d, sess, rng)
	}
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		rules, err := cfg.ResolveRules()
		if err != nil {
			return err
		}
		ruleSeed := cfg.RandomSeed
		if ruleSeed == 0 {
			ruleSeed = *seed
		}
		if err := tagging.New(ruleSeed).Apply(b, rules); err != nil {
			return fmt.Errorf("index: applying tag rules: %w", err)
		}
	}

	if *infogainTop > 0 {
		scores := feature.ScoreTerms(b, feature.InformationGain, 0)
		if err := feature.HideBelowTopN(b.Index, scores, *infogainTop); err != nil {
			return fmt.Errorf("index: feature selection: %w", err)
		}
		logger.Printf("kept top %d terms by information gain, %d visible", *infogainTop, b.Index.NumVisible())
	}

	if err := datadir.Save(*dataDir, d, b, ""); err != nil {
		return err
	}
	if err := datadir.SavePVTable(*dataDir, b.PVs, store, sess); err != nil {
		return err
	}

	if *docsDB {
		ctx := context.Background()
		ds, err := docsstore.Open(ctx, filepath.Join(*dataDir, "docs"))
		if err != nil {
			return fmt.Errorf("index: opening docs store: %w", err)
		}
		defer ds.Close()
		if err := ds.SaveBarrel(ctx, b); err != nil {
			return fmt.Errorf("index: writing docs store: %w", err)
		}
	}

	pvSize := int64(0)
	if fi, err := store.Stat(); err == nil {
		pvSize = fi.Size()
	}
	logger.Printf("indexed %s documents, %s terms, %s of position vectors in %v [build %s]",
		humanize.Comma(int64(count)), humanize.Comma(int64(d.Size())),
		humanize.IBytes(uint64(pvSize)), time.Since(start).Round(time.Millisecond), b.BuildID)
	return nil
}

func cmdQuery(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory to query")
	queryStr := fs.String("query", "", "query string (defaults to the positional arguments)")
	numHits := fs.Int("num-hits-to-show", 10, "number of hits to print")
	rawCount := fs.Bool("score-is-raw-count", false, "score by raw match count instead of log rescaling")
	printAll := fs.Bool("print-all", false, "print every hit, not just the top N")
	fs.Parse(args)

	q := *queryStr
	if q == "" {
		q = strings.Join(fs.Args(), " ")
	}
	if q == "" {
		return fmt.Errorf("query: a query string is required")
	}

	dir, b, _, err := datadir.Open(*dataDir)
	if err != nil {
		return err
	}
	defer dir.Close()
	dir.Dict.Freeze()

	atoms, truncated, err := queryengine.ParseQuery(q)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if truncated {
		logger.Printf("warning: query truncated to %d atoms", queryengine.MaxAtoms)
	}

	mode := queryengine.Log
	if *rawCount {
		mode = queryengine.Raw
	}
	hits, err := queryengine.Execute(b, dir.Dict, atoms, dir.OpenCursor, mode)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	shown := hits
	if !*printAll && len(shown) > *numHits {
		shown = shown[:*numHits]
	}
	fmt.Printf(",HITCOUNT %d\n", len(hits))
	for _, h := range shown {
		name := ""
		if int(h.Doc) < len(b.Docs) {
			name = b.Docs[h.Doc].Filename
		}
		fmt.Printf("%s %g\n", name, h.Score)
	}
	fmt.Println(".")
	return nil
}

func cmdServe(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory to serve")
	port := fs.Int("port", 13411, "TCP port to listen on")
	rawCount := fs.Bool("score-is-raw-count", false, "score by raw match count instead of log rescaling")
	var lf lexFlags
	lf.register(fs)
	fs.Parse(args)

	lex, err := lf.build()
	if err != nil {
		return err
	}
	dir, b, _, err := datadir.Open(*dataDir)
	if err != nil {
		return err
	}
	defer dir.Close()

	sess := session.New(false).WithLogger(logger)
	sess.Dict = dir.Dict

	mode := queryengine.Log
	if *rawCount {
		mode = queryengine.Raw
	}
	srv := queryserver.New(queryserver.Config{
		Barrel:     b,
		Dict:       dir.Dict,
		Session:    sess,
		Lexer:      lex,
		PhraseOpen: dir.OpenCursor,
		Mode:       mode,
		Archive: func(d *dict.Dict, b *barrel.Barrel) error {
			return datadir.Save(dir.Path, d, b, "")
		},
		Logger: logger,
	})
	return srv.ListenAndServe(fmt.Sprintf(":%d", *port))
}

func cmdClassify(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory holding the document barrel")
	configPath := fs.String("config", "", "YAML session config (smoothing, event model, split rules)")
	method := fs.String("method", "nb", "scorer: nb, bernoulli, tfidf, knn, prind, kl, evidence")
	emIters := fs.Int("em-iterations", 0, "run N rounds of semi-supervised EM before evaluating")
	topK := fs.Int("num-hits-to-show", 1, "classes to rank per test document")
	printScores := fs.Bool("print-all", false, "print the ranked classes for every test document")
	var lf lexFlags
	lf.register(fs)
	fs.Parse(args)

	lex, err := lf.build()
	if err != nil {
		return err
	}
	dir, b, _, err := datadir.Open(*dataDir)
	if err != nil {
		return err
	}
	defer dir.Close()
	d := dir.Dict
	d.Freeze()

	model := classbarrel.Word
	smoothMethod := smoothing.Laplace
	est := smoothing.New(smoothMethod, int64(d.Size()))
	smart := ""
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		comps, err := cfg.Resolve(int64(d.Size()))
		if err != nil {
			return err
		}
		model, smoothMethod, est = comps.EventModel, comps.Method, comps.Estimator
		if cfg.SMARTDoc != "" {
			smart = cfg.SMARTDoc
			if cfg.SMARTQuery != "" {
				smart += "." + cfg.SMARTQuery
			}
		}
		if smoothMethod == smoothing.Dirichlet && cfg.Smoothing.DirichletAlpha != "" {
			ignored, err := config.LoadDirichletAlphas(est, cfg.Smoothing.DirichletAlpha, d)
			if err != nil {
				return fmt.Errorf("classify: loading dirichlet alphas: %w", err)
			}
			if ignored > 0 {
				logger.Printf("dirichlet alphas: %d terms not in vocabulary, skipped", ignored)
			}
		}
		if len(comps.Rules) > 0 {
			if err := tagging.New(cfg.RandomSeed).Apply(b, comps.Rules); err != nil {
				return fmt.Errorf("classify: applying tag rules: %w", err)
			}
		}
	}

	if *emIters > 0 {
		validation := barrel.Tag(0)
		for _, cdoc := range b.Docs {
			if cdoc.Tag == barrel.Validation {
				validation = barrel.Validation
				break
			}
		}
		stats, err := em.Run(b, em.Options{
			MaxIterations: *emIters,
			Model:         model,
			Smoothing:     smoothMethod,
			ValidationTag: validation,
		})
		if err != nil {
			return fmt.Errorf("classify: em: %w", err)
		}
		for _, st := range stats {
			line := fmt.Sprintf("em iteration %d: log-likelihood delta %.4f", st.Iteration, st.LogLikelihoodDelta)
			if st.ValidationAccuracy >= 0 {
				line += fmt.Sprintf(", validation accuracy %.1f%%", st.ValidationAccuracy*100)
			}
			logger.Print(line)
		}
	}

	cb, err := classbarrel.Build(b, model)
	if err != nil {
		return fmt.Errorf("classify: building class barrel: %w", err)
	}
	if err := est.Prepare(cb); err != nil {
		return fmt.Errorf("classify: preparing estimator: %w", err)
	}

	sc, scoreBarrel, err := buildScorer(*method, smart, b, cb, est)
	if err != nil {
		return err
	}

	var tested, correct int
	confusion := make(map[int32]map[int32]int)
	for _, cdoc := range b.Docs {
		if cdoc.Tag != barrel.Test {
			continue
		}
		data, err := os.ReadFile(cdoc.Filename)
		if err != nil {
			logger.Printf("couldn't reopen %q for scoring: %v", cdoc.Filename, err)
			continue
		}
		wv := barrel.LexWV(lex, d, string(data))
		ranked, err := sc.Score(scoreBarrel, wv, *topK)
		if err != nil {
			return fmt.Errorf("classify: scoring %q: %w", cdoc.Filename, err)
		}
		tested++
		if len(ranked) == 0 {
			continue
		}
		if ranked[0].Class == cdoc.Class {
			correct++
		}
		if confusion[cdoc.Class] == nil {
			confusion[cdoc.Class] = make(map[int32]int)
		}
		confusion[cdoc.Class][ranked[0].Class]++
		if *printScores {
			fmt.Printf("%s %s", cdoc.Filename, className(b, cdoc.Class))
			for _, r := range ranked {
				fmt.Printf(" %s:%g", className(b, r.Class), r.Score)
			}
			fmt.Println()
		}
	}

	if tested == 0 {
		logger.Print("no documents tagged test; nothing to evaluate")
		return nil
	}
	logger.Printf("%s/%s test documents correct (%.1f%%) using %s",
		humanize.Comma(int64(correct)), humanize.Comma(int64(tested)),
		100*float64(correct)/float64(tested), *method)
	for trueClass, row := range confusion {
		var parts []string
		for predicted, n := range row {
			parts = append(parts, fmt.Sprintf("%s=%d", className(b, predicted), n))
		}
		logger.Printf("  %s -> %s", className(b, trueClass), strings.Join(parts, " "))
	}
	return nil
}

// buildScorer resolves the --method name into a scorer plus the barrel
// it scores against: k-NN ranks raw documents, everything else ranks
// the class barrel.
func buildScorer(name, smart string, doc, cb *barrel.Barrel, est *smoothing.Estimator) (scorer.Scorer, *barrel.Barrel, error) {
	switch name {
	case "nb":
		return &scorer.NaiveBayesMultinomial{Est: est}, cb, nil
	case "bernoulli":
		return &scorer.NaiveBayesBernoulli{Est: est, Vocab: cb.Index.PresentTerms()}, cb, nil
	case "tfidf":
		return &scorer.TFIDFCosine{SMART: smart, IDF: computeIDF(doc)}, cb, nil
	case "knn":
		return &scorer.KNN{SMART: smart, IDF: computeIDF(doc)}, doc, nil
	case "prind":
		return &scorer.PrInd{Est: est, PW: marginalPW(cb), Normalize: true}, cb, nil
	case "kl":
		return &scorer.KLDivergence{Est: est}, cb, nil
	case "evidence":
		return &scorer.Evidence{Est: est}, cb, nil
	default:
		return nil, nil, fmt.Errorf("classify: unknown method %q", name)
	}
}

func className(b *barrel.Barrel, class int32) string {
	if b.ClassNames != nil {
		if name, ok := b.ClassNames.Name(class); ok {
			return name
		}
	}
	return fmt.Sprintf("class%d", class)
}

// computeIDF derives idf_w = log(N / df_w) from the document barrel's
// posting lists.
func computeIDF(doc *barrel.Barrel) map[dict.ID]float64 {
	n := float64(len(doc.Docs))
	out := make(map[dict.ID]float64)
	for _, term := range doc.Index.PresentTerms() {
		vec, ok, err := doc.Index.Vector(term)
		if err != nil || !ok || len(vec) == 0 {
			continue
		}
		out[term] = math.Log(n / float64(len(vec)))
	}
	return out
}

// marginalPW computes the corpus-wide P(w) marginal from the class
// barrel's rows.
func marginalPW(cb *barrel.Barrel) map[dict.ID]float64 {
	var total float64
	counts := make(map[dict.ID]float64)
	for ci := range cb.Docs {
		for _, term := range cb.Index.PresentTerms() {
			e, ok, err := cb.Index.Entry(term, int64(ci))
			if err != nil || !ok {
				continue
			}
			counts[term] += float64(e.Count)
			total += float64(e.Count)
		}
	}
	if total == 0 {
		return counts
	}
	for term := range counts {
		counts[term] /= total
	}
	return counts
}

func cmdCompact(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	dataDir := fs.String("data-dir", defaultDataDir(), "data directory to compact")
	fs.Parse(args)

	dir, b, methodName, err := datadir.Open(*dataDir)
	if err != nil {
		return err
	}
	defer dir.Close()

	newOffsets := make(map[dict.ID]int64, len(dir.PVTable))
	var units []compact.PVUnit
	for term, seek := range dir.PVTable {
		term := term
		newOffsets[term] = seek
		units = append(units, compact.PVUnit{
			PV: posting.Open(seek),
			Replace: func(merged *posting.PV) {
				if s, ok := merged.SeekStart(); ok {
					newOffsets[term] = s
				}
			},
		})
	}

	eng := compact.Engine{PVStore: dir.PV, Index: b.Index, PVs: units}
	res, err := eng.Clean(context.Background())
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	if err := datadir.SavePVOffsets(dir.Path, newOffsets); err != nil {
		return err
	}
	if err := datadir.Save(dir.Path, dir.Dict, b, methodName); err != nil {
		return err
	}
	logger.Printf("merged %d position vectors, reclaimed %d hidden terms",
		res.PVsMerged, res.TermsForgotten)
	return nil
}
