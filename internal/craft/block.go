// Package craft mirrors compliance submissions into Craft documents. It locates
// or creates a "## Portal submissions" / "### <control>" section path through
// the Craft block API and records the outcome on the submission.
package craft

import "strings"

// Position selects where an inserted block lands among its parent's children.
type Position string

const (
	PositionStart Position = "start"
	PositionEnd   Position = "end"
)

const (
	// PortalSectionHeading is the top-level section that groups all portal submissions.
	PortalSectionHeading = "## Portal submissions"
	controlHeadingPrefix = "### "
	textBlockType        = "text"
)

// ControlHeading returns the subsection heading for a control.
func ControlHeading(controlID string) string {
	return controlHeadingPrefix + strings.TrimSpace(controlID)
}

// Block is a node of a remote Craft document.
type Block struct {
	ID        string  `json:"id"`
	Type      string  `json:"type,omitempty"`
	TextStyle string  `json:"textStyle,omitempty"`
	Markdown  string  `json:"markdown,omitempty"`
	Content   []Block `json:"content,omitempty"`
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	BlockID string `json:"blockId"`
}

type insertRequest struct {
	Blocks   []insertBlock  `json:"blocks"`
	Position insertPosition `json:"position"`
}

type insertBlock struct {
	Type     string `json:"type"`
	Markdown string `json:"markdown"`
}

type insertPosition struct {
	Position Position `json:"position"`
	PageID   string   `json:"pageId"`
}

type insertResponse struct {
	Items []insertedItem `json:"items"`
}

type insertedItem struct {
	ID string `json:"id"`
}
