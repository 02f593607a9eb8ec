// Package configstore provides a reference implementation of the
// external instance-list store boundary (§6 "Configuration store"):
// persistent storage for instances is explicitly out of scope for the
// core, but the core must consume something satisfying this Load
// contract, so a YAML file-backed store is provided as the operator-
// facing default. It has no file watcher of its own: every Load re-reads
// the file, so an edit is picked up on the router's next Refresh.
package configstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

// instanceDoc is the on-disk shape of one instance record. Field names
// are deliberately distinct from types.ModelInstance's Go names to read
// naturally as YAML keys.
type instanceDoc struct {
	ID              string            `yaml:"id"`
	Provider        string            `yaml:"provider"`
	Model           string            `yaml:"model"`
	BaseURL         string            `yaml:"baseUrl"`
	APIKey          string            `yaml:"apiKey"`
	RequestTemplate string            `yaml:"requestTemplate"`
	ResponsePaths   responsePathsDoc  `yaml:"responsePaths"`
	RawPassthrough  bool              `yaml:"rawPassthrough"`
	RPMLimit        int               `yaml:"rpmLimit"`
	TPMLimit        int               `yaml:"tpmLimit"`
	PoolKey         string            `yaml:"poolKey"`
	Active          bool              `yaml:"active"`
}

type responsePathsDoc struct {
	RequestID string `yaml:"requestId"`
	Content   string `yaml:"content"`
	Sequence  string `yaml:"sequence"`
}

type fileDoc struct {
	Instances []instanceDoc `yaml:"instances"`
}

// FileStore loads instance records from a YAML file. Uniqueness is by
// (provider, model, url, apiKey) per §6's migration-path note; this
// store does not itself enforce that — it is a caller concern upstream
// of Load, since it depends on how instances were ingested.
type FileStore struct {
	path    string
	cached  atomic.Pointer[[]*types.ModelInstance]
	logger  *slog.Logger
}

// NewFileStore returns a FileStore reading from path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads and parses the YAML document, converting each entry to a
// *types.ModelInstance with a fresh zeroed Runtime. Router.Refresh then
// restores any matching snapshot onto that Runtime.
func (f *FileStore) Load(_ context.Context) ([]*types.ModelInstance, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("configstore: read %s: %w", f.path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("configstore: parse %s: %w", f.path, err)
	}

	out := make([]*types.ModelInstance, 0, len(doc.Instances))
	for _, d := range doc.Instances {
		inst := &types.ModelInstance{
			ID:              d.ID,
			Provider:        d.Provider,
			Model:           d.Model,
			BaseURL:         d.BaseURL,
			APIKey:          d.APIKey,
			RequestTemplate: d.RequestTemplate,
			RawPassthrough:  d.RawPassthrough,
			RPMLimit:        d.RPMLimit,
			TPMLimit:        d.TPMLimit,
			PoolKey:         d.PoolKey,
			Active:          d.Active,
			Runtime:         types.NewInstanceRuntime(),
		}
		inst.ResponseFieldPaths = resolvePaths(d.ResponsePaths)
		out = append(out, inst)
	}

	f.cached.Store(&out)
	return out, nil
}

// Cached returns the last successfully loaded list without touching
// disk, or nil if Load has never succeeded.
func (f *FileStore) Cached() []*types.ModelInstance {
	if p := f.cached.Load(); p != nil {
		return *p
	}
	return nil
}

func resolvePaths(d responsePathsDoc) types.ResponseFieldPaths {
	def := types.DefaultResponseFieldPaths()
	paths := def
	if d.RequestID != "" {
		paths.RequestID = d.RequestID
	}
	if d.Content != "" {
		paths.Content = d.Content
	}
	if d.Sequence != "" {
		paths.Sequence = d.Sequence
	}
	return paths
}
