// Package profile manages the long-term profile document: the bot's
// persona, the user model, memorable events, and standing agreements.
// The document lives as pretty-printed JSON on disk and is updated with
// RFC 6902 patches validated against a schema.
package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xonecas/seele/internal/errs"
)

//go:embed template.json
var templateJSON []byte

//go:embed schema.json
var schemaJSON []byte

// Manager holds the profile document and serializes all updates.
type Manager struct {
	mu     sync.Mutex
	path   string
	doc    []byte // current document, pretty-printed
	schema *jsonschema.Schema
}

// Load opens the profile at path, falling back to the embedded template
// when the file doesn't exist yet. The fallback is not written to disk
// until the first update.
func Load(path string) (*Manager, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}

	m := &Manager{path: path, schema: schema}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("profile not found, starting from template")
		raw = templateJSON
	case err != nil:
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("read profile: %w", err))
	}

	doc, err := normalize(raw)
	if err != nil {
		return nil, errs.New(errs.BadArgument, fmt.Errorf("profile %s: %w", path, err))
	}
	if err := m.validate(doc); err != nil {
		return nil, err
	}
	m.doc = doc
	return m, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	sch, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("profile.schema.json", sch); err != nil {
		return nil, err
	}
	return c.Compile("profile.schema.json")
}

// Snapshot returns the current document as pretty-printed JSON, suitable
// for embedding verbatim in a prompt.
func (m *Manager) Snapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.doc)
}

// Names returns the bot and user names from the document, with defaults
// for unset fields.
func (m *Manager) Names() (bot, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doc struct {
		Bot  struct{ Name string } `json:"bot"`
		User struct{ Name string } `json:"user"`
	}
	if err := json.Unmarshal(m.doc, &doc); err != nil {
		return "AI Assistant", "User"
	}
	bot, user = doc.Bot.Name, doc.User.Name
	if bot == "" {
		bot = "AI Assistant"
	}
	if user == "" {
		user = "User"
	}
	return bot, user
}

// ApplyPatch applies an RFC 6902 patch to the document, validates the
// result against the schema, and persists it. The document is unchanged
// when any step fails.
func (m *Manager) ApplyPatch(patch []byte) error {
	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("decode patch: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	patched, err := decoded.Apply(m.doc)
	if err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("apply patch: %w", err))
	}

	doc, err := normalize(patched)
	if err != nil {
		return errs.New(errs.BadArgument, err)
	}
	if err := m.validate(doc); err != nil {
		return err
	}
	if err := m.write(doc); err != nil {
		return err
	}
	m.doc = doc
	log.Info().Int("bytes", len(doc)).Msg("applied profile patch")
	return nil
}

// validate checks a candidate document against the profile schema.
func (m *Manager) validate(doc []byte) error {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("parse profile: %w", err))
	}
	if err := m.schema.Validate(value); err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("profile schema: %w", err))
	}
	return nil
}

// write persists the document atomically: write a temp file alongside,
// rename over the target, then sync the directory. A crash mid-update
// leaves either the old or the new document, never a torn one.
func (m *Manager) write(doc []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("create profile directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("create temp profile: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return errs.New(errs.StoreUnavailable, fmt.Errorf("write profile: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.StoreUnavailable, fmt.Errorf("sync profile: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.StoreUnavailable, err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("rename profile: %w", err))
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// normalize reindents a JSON document so disk and prompt snapshots stay
// stable regardless of how the input was formatted.
func normalize(raw []byte) ([]byte, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
