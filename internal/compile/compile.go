// Package compile validates extracted entities into a WorkflowSpec.
package compile

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/extract"
)

type Compiler struct {
	cfg       *config.Config
	vocab     *extract.Vocabulary
	extractor extract.Extractor
	logger    *slog.Logger
}

// New builds a compiler over cfg using extractor for free text.
func New(cfg *config.Config, extractor extract.Extractor, logger *slog.Logger) (*Compiler, error) {
	vocab, err := extract.NewVocabulary(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{cfg: cfg, vocab: vocab, extractor: extractor, logger: logger.With("component", "compile")}, nil
}

// Plan is the outcome of compiling one instruction.
type Plan struct {
	Instruction string              `json:"instruction"`
	Entities    []domain.Entity     `json:"entities"`
	Spec        domain.WorkflowSpec `json:"spec"`
}

// CompileText extracts entities from text and compiles them.
func (c *Compiler) CompileText(ctx context.Context, text string) (Plan, error) {
	ents := c.extractor.Extract(ctx, text)
	plan := Plan{Instruction: text, Entities: ents}
	spec, err := c.Compile(ents)
	if err != nil {
		c.logger.InfoContext(ctx, "instruction rejected", "error", err)
		return plan, err
	}
	plan.Spec = spec
	c.logger.InfoContext(ctx, "instruction compiled",
		"counties", spec.Counties, "tms_count", len(spec.TMSNumbers), "doc_types", spec.DocTypes)
	return plan, nil
}

// Compile validates entities into a WorkflowSpec. It fails with a
// *domain.ValidationError when no TMS number is present, when a TMS number
// cannot be placed in exactly one county, or when a document type cannot be
// resolved.
func (c *Compiler) Compile(ents []domain.Entity) (domain.WorkflowSpec, error) {
	var (
		named      []domain.CountyID
		tmsNumbers []string
		explicit   = map[domain.DocTypeID]bool{}
		seenTMS    = map[string]bool{}
		seenCounty = map[domain.CountyID]bool{}
	)
	for _, e := range ents {
		switch e.Kind {
		case domain.EntityCounty:
			if _, ok := c.cfg.Counties[string(e.County)]; !ok {
				return domain.WorkflowSpec{}, domain.Invalid("county %q is not configured", e.Text)
			}
			if !seenCounty[e.County] {
				seenCounty[e.County] = true
				named = append(named, e.County)
			}
		case domain.EntityTMS:
			tms := extract.NormalizeTMS(e.TMS)
			if tms == "" {
				tms = extract.NormalizeTMS(e.Text)
			}
			if !seenTMS[tms] {
				seenTMS[tms] = true
				tmsNumbers = append(tmsNumbers, tms)
			}
		case domain.EntityDocType:
			switch {
			case e.All:
			case e.DocType != "":
				if _, ok := c.cfg.DocumentTypes[string(e.DocType)]; !ok {
					return domain.WorkflowSpec{}, domain.Invalid("unknown document type %q", e.Text)
				}
				explicit[e.DocType] = true
			default:
				if !c.vocab.IsAll(e.Text) {
					return domain.WorkflowSpec{}, domain.Invalid("unknown document type %q", e.Text)
				}
			}
		case domain.EntityUnrecognized:
			if extract.LooksLikeTMS(e.Text) {
				return domain.WorkflowSpec{}, domain.Invalid("tms %s is not valid in any configured county", e.Text)
			}
		}
	}
	if len(tmsNumbers) == 0 {
		return domain.WorkflowSpec{}, domain.Invalid("instruction names no TMS number")
	}

	candidates := named
	if len(candidates) == 0 {
		if c.cfg.Defaults.County != "" {
			candidates = []domain.CountyID{domain.CountyID(c.cfg.Defaults.County)}
		} else {
			candidates = c.cfg.CountyIDs()
		}
	}

	assignments := make(map[string]domain.CountyID, len(tmsNumbers))
	for _, tms := range tmsNumbers {
		county, err := c.assign(tms, candidates)
		if err != nil {
			return domain.WorkflowSpec{}, err
		}
		assignments[tms] = county
	}

	counties := append([]domain.CountyID(nil), candidates...)
	sort.Slice(counties, func(i, j int) bool { return counties[i] < counties[j] })

	docTypes, err := c.resolveDocTypes(explicit, counties)
	if err != nil {
		return domain.WorkflowSpec{}, err
	}

	return domain.WorkflowSpec{
		Counties:    counties,
		TMSNumbers:  tmsNumbers,
		DocTypes:    docTypes,
		Assignments: assignments,
	}, nil
}

// assign places tms in exactly one county. A number valid in several of the
// candidate counties is rejected rather than guessed. A number valid only in
// a county the instruction did not name is assigned there; expansion then
// skips it for the named counties.
func (c *Compiler) assign(tms string, candidates []domain.CountyID) (domain.CountyID, error) {
	matching := c.vocab.MatchTMS(tms)
	if len(matching) == 0 {
		return "", domain.Invalid("tms %s is not valid in any configured county", tms)
	}
	var inCandidates []domain.CountyID
	for _, id := range matching {
		for _, cand := range candidates {
			if id == cand {
				inCandidates = append(inCandidates, id)
			}
		}
	}
	switch {
	case len(inCandidates) == 1:
		return inCandidates[0], nil
	case len(inCandidates) > 1:
		return "", domain.Invalid("tms %s is ambiguous between %s", tms, joinIDs(inCandidates))
	case len(matching) == 1:
		return matching[0], nil
	default:
		return "", domain.Invalid("tms %s is ambiguous between %s", tms, joinIDs(matching))
	}
}

// resolveDocTypes returns the explicit types, or the union of the counties'
// default types when none were named.
func (c *Compiler) resolveDocTypes(explicit map[domain.DocTypeID]bool, counties []domain.CountyID) ([]domain.DocTypeID, error) {
	set := map[domain.DocTypeID]bool{}
	if len(explicit) > 0 {
		for dt := range explicit {
			supported := false
			for _, county := range counties {
				if c.cfg.Supports(county, dt) {
					supported = true
				}
			}
			if !supported {
				return nil, domain.Invalid("document type %s is not available in %s", dt, joinIDs(counties))
			}
			set[dt] = true
		}
	} else {
		for _, county := range counties {
			cc := c.cfg.Counties[string(county)]
			defaults := cc.DefaultDocTypes
			if len(defaults) == 0 {
				defaults = cc.DocTypes
			}
			for _, dt := range defaults {
				set[domain.DocTypeID(dt)] = true
			}
		}
	}
	out := make([]domain.DocTypeID, 0, len(set))
	for dt := range set {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func joinIDs(ids []domain.CountyID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
