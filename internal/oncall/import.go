package oncall

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/shared/types"
)

// ImportFile is the YAML document accepted by `platform oncall import`.
//
//	responders:
//	  - id: 2f0c...
//	    name: Ana Reyes
//	    email: ana@example.com
//	    phone: "+15550100"
//	organizations:
//	  - id: 9b1e...
//	    primary: 2f0c...
//	    timeout_minutes: 10
//	    chain: [7aa4..., 01cd...]
type ImportFile struct {
	Responders    []ResponderEntry    `yaml:"responders"`
	Organizations []OrganizationEntry `yaml:"organizations"`
}

type ResponderEntry struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
}

type OrganizationEntry struct {
	ID             string   `yaml:"id"`
	Primary        string   `yaml:"primary"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
	Chain          []string `yaml:"chain"`
}

// ImportSummary counts what an import touched.
type ImportSummary struct {
	Responders     int
	Configurations int
	Contacts       int
}

// ParseImport decodes an import document, rejecting unknown keys.
func ParseImport(r io.Reader) (*ImportFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ImportFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}
	return &f, nil
}

// Importer loads responders and on-call chains in bulk.
type Importer struct {
	repo       Repository
	responders directory.Writer
	logger     *zap.Logger
}

func NewImporter(repo Repository, responders directory.Writer, logger *zap.Logger) *Importer {
	return &Importer{repo: repo, responders: responders, logger: logger}
}

// ImportPath reads and applies the YAML file at path.
func (im *Importer) ImportPath(ctx context.Context, path string) (ImportSummary, error) {
	fh, err := os.Open(path)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()

	f, err := ParseImport(fh)
	if err != nil {
		return ImportSummary{}, err
	}
	return im.Import(ctx, f)
}

// Import upserts every responder, then replaces each organization's
// configuration and chain. Chain positions are assigned 1..n in file order.
func (im *Importer) Import(ctx context.Context, f *ImportFile) (ImportSummary, error) {
	var summary ImportSummary

	for i, entry := range f.Responders {
		id, err := types.ParseID(entry.ID)
		if err != nil {
			return summary, fmt.Errorf("responders[%d]: %w", i, err)
		}
		r := &directory.Responder{ID: id, Name: entry.Name, Email: entry.Email}
		if entry.Phone != "" {
			phone := entry.Phone
			r.Phone = &phone
		}
		if err := im.responders.SaveResponder(ctx, r); err != nil {
			return summary, fmt.Errorf("responders[%d]: %w", i, err)
		}
		summary.Responders++
	}

	for i, entry := range f.Organizations {
		n, err := im.importOrganization(ctx, entry)
		if err != nil {
			return summary, fmt.Errorf("organizations[%d]: %w", i, err)
		}
		summary.Configurations++
		summary.Contacts += n
	}

	im.logger.Info("on-call import finished",
		zap.Int("responders", summary.Responders),
		zap.Int("configurations", summary.Configurations),
		zap.Int("contacts", summary.Contacts),
	)
	return summary, nil
}

func (im *Importer) importOrganization(ctx context.Context, entry OrganizationEntry) (int, error) {
	orgID, err := types.ParseID(entry.ID)
	if err != nil {
		return 0, err
	}
	primary, err := types.ParseID(entry.Primary)
	if err != nil {
		return 0, fmt.Errorf("primary: %w", err)
	}
	chain := make([]types.ID, 0, len(entry.Chain))
	for j, raw := range entry.Chain {
		id, err := types.ParseID(raw)
		if err != nil {
			return 0, fmt.Errorf("chain[%d]: %w", j, err)
		}
		chain = append(chain, id)
	}

	cfg := &Configuration{
		OrganizationID:           orgID,
		PrimaryResponderID:       primary,
		EscalationTimeoutMinutes: entry.TimeoutMinutes,
	}
	if err := im.repo.SaveConfiguration(ctx, cfg); err != nil {
		return 0, err
	}

	existing, err := im.repo.ListChain(ctx, cfg.ID)
	if err != nil {
		return 0, err
	}
	for _, c := range existing {
		if err := im.repo.RemoveContact(ctx, cfg.ID, c.ID); err != nil {
			return 0, err
		}
	}

	for pos, responderID := range chain {
		contact := &Contact{ConfigurationID: cfg.ID, ResponderID: responderID, Position: pos + 1}
		if err := im.repo.AddContact(ctx, contact); err != nil {
			return 0, err
		}
	}
	return len(chain), nil
}
