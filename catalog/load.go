package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/modelmux/modelmux/providers"
)

//go:embed catalog.json
var bundledCatalog []byte

//go:embed schema.json
var catalogSchema []byte

// Document is the on-disk catalog shape.
type Document struct {
	Version   string                      `json:"version"`
	Updated   string                      `json:"updated"`
	Providers map[string]map[string]Entry `json:"providers"`
}

var schema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("catalog-schema.json", bytes.NewReader(catalogSchema)); err != nil {
		panic(fmt.Sprintf("catalog: embedded schema: %v", err))
	}
	return c.MustCompile("catalog-schema.json")
}()

// Providers whose official model IDs embed a release date. Entries for these
// providers must either match the dated pattern or appear in the stable
// alias allow-list.
var datedIDPatterns = map[string]*regexp.Regexp{
	"openai":    regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`),
	"anthropic": regexp.MustCompile(`-\d{8}$`),
}

// stableAliases is the explicit allow-list of undated model IDs.
var stableAliases = map[string]bool{
	"openai/gpt-4o":              true,
	"openai/gpt-4o-mini":         true,
	"deepseek/deepseek-chat":     true,
	"deepseek/deepseek-reasoner": true,
	"google/gemini-2.0-flash":    true,
	"google/gemini-1.5-pro":      true,
	"google/gemini-1.5-flash":    true,
}

// Load reads and activates a catalog document. path == "" loads the bundled
// default. Validation is fail-closed: on any error the previous snapshot
// remains in effect and the error is returned for the operator.
func (c *Catalog) Load(path string) error {
	data := bundledCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("catalog read: %w", err)
		}
		data = b
	}
	return c.LoadBytes(data)
}

// LoadBytes parses, validates, and atomically activates a catalog document.
func (c *Catalog) LoadBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Schema validation operates on the generically decoded document.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("catalog parse: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("catalog parse: %w", err)
	}

	snap, err := buildSnapshot(doc)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	return nil
}

// Document serializes the active snapshot back into the on-disk shape.
// Load → Document → LoadBytes round-trips to an equal registry.
func (c *Catalog) Document() Document {
	s := c.current()
	doc := Document{Version: s.version, Updated: s.updated, Providers: map[string]map[string]Entry{}}
	for _, e := range s.entries {
		if doc.Providers[e.Provider] == nil {
			doc.Providers[e.Provider] = map[string]Entry{}
		}
		doc.Providers[e.Provider][e.ModelID] = e
	}
	return doc
}

func buildSnapshot(doc Document) (*snapshot, error) {
	snap := &snapshot{
		version: doc.Version,
		updated: doc.Updated,
		entries: make(map[string]Entry),
		byModel: make(map[string][]Entry),
	}
	for provider, entries := range doc.Providers {
		for modelID, e := range entries {
			e.Provider = provider
			e.ModelID = modelID
			if err := checkEntry(e); err != nil {
				return nil, err
			}
			snap.entries[e.Key()] = e
			snap.byModel[modelID] = append(snap.byModel[modelID], e)
		}
	}
	for _, es := range snap.byModel {
		sort.Slice(es, func(i, j int) bool { return es[i].Provider < es[j].Provider })
	}
	return snap, nil
}

// checkEntry enforces the semantic invariants the schema cannot express.
func checkEntry(e Entry) error {
	key := e.Key()
	if e.ContextWindow <= 0 {
		return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
			"entry %s: context_window must be positive", key)
	}
	if e.InputPerMTok == nil || e.OutputPerMTok == nil {
		return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
			"entry %s: input and output prices are required", key)
	}
	for name, p := range map[string]*float64{
		"input_price_per_mtok":       e.InputPerMTok,
		"output_price_per_mtok":      e.OutputPerMTok,
		"cache_write_price_per_mtok": e.CacheWritePerMTok,
		"cache_read_price_per_mtok":  e.CacheReadPerMTok,
	} {
		if p != nil && *p < 0 {
			return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
				"entry %s: %s must be >= 0", key, name)
		}
	}
	if e.QualityScore < 0 || e.QualityScore > 1 {
		return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
			"entry %s: quality_score must be within [0,1]", key)
	}
	if e.Latency != "" && LatencyRank(e.Latency) > 3 {
		return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
			"entry %s: unknown latency_class %q", key, e.Latency)
	}
	if pattern, dated := datedIDPatterns[e.Provider]; dated {
		if !pattern.MatchString(e.ModelID) && !stableAliases[key] {
			return providers.Errf(providers.CodeCatalogIncomplete, e.Provider, e.ModelID,
				"entry %s: model ID is neither dated nor an allow-listed alias", key)
		}
	}
	return nil
}
