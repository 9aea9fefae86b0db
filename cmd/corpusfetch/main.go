package main

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// arXiv API endpoint
const apiURL = "http://export.arxiv.org/api/query"

// ArxivFeed represents the XML response from arXiv API
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []ArxivEntry `xml:"entry"`
}

// ArxivEntry represents a single paper
type ArxivEntry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []Author `xml:"author"`
	Category  []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Link []struct {
		Href string `xml:"href,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
}

type Author struct {
	Name string `xml:"name"`
}

func main() {
	// Configuration
	category := "cs.AI" // Default: AI papers
	maxResults := 200
	outDir := "testdata/arxiv"

	if len(os.Args) > 1 {
		category = os.Args[1]
	}
	if len(os.Args) > 2 {
		fmt.Sscanf(os.Args[2], "%d", &maxResults)
	}
	if len(os.Args) > 3 {
		outDir = os.Args[3]
	}

	log.Printf("Downloading %d papers from arXiv category: %s\n", maxResults, category)
	log.Println("Categories: cs.AI (AI), cs.CL (NLP), cs.LG (ML), econ.EM (Economics), q-fin (Finance)")

	// Build query
	params := url.Values{}
	params.Set("search_query", "cat:"+category)
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	fullURL := apiURL + "?" + params.Encode()

	// Fetch from arXiv
	log.Println("Fetching from arXiv API...")
	resp, err := http.Get(fullURL)
	if err != nil {
		log.Fatal("Failed to fetch:", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Fatalf("HTTP error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal("Failed to read response:", err)
	}

	// Parse XML
	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		log.Fatal("Failed to parse XML:", err)
	}

	log.Printf("Received %d papers\n", len(feed.Entries))

	// pkg/bow/barrel.AddFromTextDir expects one subdirectory per class,
	// each holding the class's documents as plain text files — so each
	// paper becomes <outDir>/<primary-class>/<id>.txt rather than a
	// single JSONL stream.
	downloaded := 0

	for i, entry := range feed.Entries {
		cats := []string{}
		for _, cat := range entry.Category {
			cats = append(cats, mapArxivCategory(cat.Term))
		}
		if len(cats) == 0 {
			cats = []string{"research"}
		}
		primary := deduplicate(cats)[0]

		text := cleanText(entry.Title) + ". " + cleanText(entry.Summary)
		authors := []string{}
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}
		if len(authors) > 0 {
			text += " Authors: " + strings.Join(authors[:min(3, len(authors))], ", ")
			if len(authors) > 3 {
				text += " et al."
			}
		}

		classDir := filepath.Join(outDir, primary)
		if err := os.MkdirAll(classDir, 0o755); err != nil {
			log.Printf("failed to create class dir %s: %v", classDir, err)
			continue
		}
		docPath := filepath.Join(classDir, arxivFilename(entry.ID, i))
		if err := os.WriteFile(docPath, []byte(text), 0o644); err != nil {
			log.Printf("failed to write %s: %v", docPath, err)
			continue
		}

		downloaded++
		if downloaded%25 == 0 {
			log.Printf("Processed %d/%d papers...", downloaded, len(feed.Entries))
		}
	}

	log.Printf("successfully downloaded %d papers to %s", downloaded, outDir)
	log.Println("categories found:", getCategoryStats(feed.Entries))
}

// arxivFilename derives a stable, filesystem-safe document name from an
// arXiv entry id (a URL like "http://arxiv.org/abs/2401.01234v1"),
// falling back to a positional index if the id carries no usable
// suffix.
func arxivFilename(id string, index int) string {
	base := id
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		base = id[idx+1:]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		base = fmt.Sprintf("doc-%d", index)
	}
	return base + ".txt"
}

func mapArxivCategory(cat string) string {
	// Map arXiv categories to the class names used as barrel subdirectories.
	mapping := map[string]string{
		"cs.AI":   "ai",
		"cs.CL":   "nlp",
		"cs.LG":   "machine-learning",
		"cs.CV":   "computer-vision",
		"cs.CR":   "security",
		"cs.DB":   "database",
		"cs.SE":   "software-engineering",
		"econ.EM": "economics",
		"q-fin":   "finance",
		"stat.ML": "statistics",
		"math.OC": "optimization",
		"physics": "physics",
	}

	for prefix, category := range mapping {
		if strings.HasPrefix(cat, prefix) {
			return category
		}
	}

	// Extract major category (before dot)
	parts := strings.Split(cat, ".")
	if len(parts) > 0 {
		return parts[0]
	}

	return "research"
}

func cleanText(s string) string {
	// Remove extra whitespace
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(s)
	return s
}

func deduplicate(strs []string) []string {
	seen := make(map[string]struct{})
	result := []string{}
	for _, s := range strs {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			result = append(result, s)
		}
	}
	return result
}

func getCategoryStats(entries []ArxivEntry) map[string]int {
	stats := make(map[string]int)
	for _, e := range entries {
		for _, cat := range e.Category {
			mapped := mapArxivCategory(cat.Term)
			stats[mapped]++
		}
	}
	return stats
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
