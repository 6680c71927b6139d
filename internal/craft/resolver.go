package craft

import (
	"context"
	"fmt"
	"strings"
)

// BlockAPI is the subset of the Craft API the section resolver and syncer need.
type BlockAPI interface {
	FetchDocument(ctx context.Context, docID string) (Block, error)
	Search(ctx context.Context, docID, pattern string) (string, bool, error)
	Insert(ctx context.Context, parentID, markdown string, position Position) (string, error)
}

// SectionResolver finds or creates the "## Portal submissions" / "### <control>"
// path inside a document and returns the control section block id.
//
// The document is searched from scratch on every call and the Craft API offers
// no compare-and-swap, so two concurrent resolves for the same document and
// control can both miss and both create a control section. Callers that cannot
// tolerate the duplicate must serialize resolves per (document, control).
type SectionResolver struct {
	api BlockAPI
}

// NewSectionResolver constructs a resolver over the given block API.
func NewSectionResolver(api BlockAPI) *SectionResolver {
	return &SectionResolver{api: api}
}

// Resolve fetches the document and resolves the control section inside it.
func (r *SectionResolver) Resolve(ctx context.Context, docID, controlID string) (string, error) {
	document, err := r.api.FetchDocument(ctx, docID)
	if err != nil {
		return "", stepError(StepFetchDocument, err)
	}
	return r.ResolveIn(ctx, document, controlID)
}

// ResolveIn returns the block id that submission content for the control should
// be appended under. Search hits are checked against the fetched document: a
// hit whose block is not exactly the heading (a "### C10" section or an entry
// quoting "### C1") does not count as the section. Every failure is a
// *StepError naming the failed step.
func (r *SectionResolver) ResolveIn(ctx context.Context, document Block, controlID string) (string, error) {
	controlHeading := ControlHeading(controlID)
	if strings.TrimSpace(controlID) == "" {
		return "", stepError(StepSearchControlSection, fmt.Errorf("control id required"))
	}

	controlSectionID, found, err := r.locate(ctx, document, controlHeading)
	if err != nil {
		return "", stepError(StepSearchControlSection, err)
	}
	if found {
		return controlSectionID, nil
	}

	portalSectionID, found, err := r.locate(ctx, document, PortalSectionHeading)
	if err != nil {
		return "", stepError(StepSearchPortalSection, err)
	}
	if !found {
		portalSectionID, err = r.insertSection(ctx, document.ID, PortalSectionHeading, StepCreatePortalSection)
		if err != nil {
			return "", err
		}
	}

	return r.insertSection(ctx, portalSectionID, controlHeading, StepCreateControlSection)
}

// locate searches for the heading and accepts the hit only when the document
// block with that id carries exactly the heading. Search matches substrings,
// so on a mismatch the fetched tree is scanned for an exact heading instead.
func (r *SectionResolver) locate(ctx context.Context, document Block, heading string) (string, bool, error) {
	blockID, found, err := r.api.Search(ctx, document.ID, heading)
	if err != nil || !found {
		return "", false, err
	}
	if block, ok := findBlock(document, blockID); ok && isHeading(block, heading) {
		return blockID, true, nil
	}
	if exactID, ok := findHeading(document, heading); ok {
		return exactID, true, nil
	}
	return "", false, nil
}

func isHeading(block Block, heading string) bool {
	return strings.TrimSpace(block.Markdown) == heading
}

func findBlock(root Block, blockID string) (Block, bool) {
	if root.ID == blockID {
		return root, true
	}
	for _, child := range root.Content {
		if block, ok := findBlock(child, blockID); ok {
			return block, true
		}
	}
	return Block{}, false
}

func findHeading(root Block, heading string) (string, bool) {
	for _, child := range root.Content {
		if isHeading(child, heading) {
			return child.ID, true
		}
		if blockID, ok := findHeading(child, heading); ok {
			return blockID, true
		}
	}
	return "", false
}

func (r *SectionResolver) insertSection(ctx context.Context, parentID, heading string, step Step) (string, error) {
	blockID, err := r.api.Insert(ctx, parentID, heading, PositionEnd)
	if err != nil {
		return "", stepError(step, err)
	}
	if strings.TrimSpace(blockID) == "" {
		return "", stepError(step, ErrMissingBlockID)
	}
	return blockID, nil
}
