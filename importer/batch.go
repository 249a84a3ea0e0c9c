package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lokalhub/translation-stage-api/stage"
	"github.com/lokalhub/translation-stage-api/trans"
)

// Batch is one importable file of translated strings: every entry targets
// the same branch, component and language.
type Batch struct {
	Branch    string            `json:"branch"`
	Component string            `json:"component"`
	Lang      string            `json:"lang"`
	Strings   map[string]string `json:"strings"`
}

func infoFromFilename(filename string) (component string, expectLang string, err error) {
	parts := strings.Split(filename, ".")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("component name or language missing from filename '%v'", filename)
	}

	return parts[0], parts[1], nil
}

// NewFromFile reads a batch from the JSON file at the given path. The file
// must be named '<component>.<lang>.json' and match its own content.
func NewFromFile(file string) (b *Batch, err error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	b = &Batch{}
	if err = json.Unmarshal(data, b); err != nil {
		return nil, err
	}

	component, expectLang, err := infoFromFilename(filepath.Base(file))
	if err != nil {
		return nil, err
	}
	if b.Component == "" {
		b.Component = component
	}
	if b.Lang != expectLang {
		return nil, fmt.Errorf("found language %v but expected %v based on filename '%v'", b.Lang, expectLang, file)
	}
	if b.Component != component {
		return nil, fmt.Errorf("found component %v but expected %v based on filename '%v'", b.Component, component, file)
	}

	return b, nil
}

// Stage puts every entry of the batch into the owner's stage. Entries are
// staged in identifier order; the first invalid key aborts with the count of
// entries staged so far.
func (b *Batch) Stage(ctx context.Context, m *stage.Manager, owner string) (count int, err error) {
	ids := make([]string, 0, len(b.Strings))
	for id := range b.Strings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		key := trans.StringKey{
			Branch:    b.Branch,
			Component: b.Component,
			StringID:  id,
			Lang:      b.Lang,
		}
		if err = m.Put(ctx, owner, key, b.Strings[id]); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
