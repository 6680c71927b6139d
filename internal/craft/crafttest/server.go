// Package crafttest provides an in-process fake of the Craft block API for tests.
package crafttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// Operation names the fake endpoints for failure injection and request counting.
type Operation string

const (
	OperationFetch  Operation = "fetch"
	OperationSearch Operation = "search"
	OperationInsert Operation = "insert"
)

type node struct {
	id       string
	markdown string
	children []string
}

// Server is a fake Craft API holding one block tree per document.
type Server struct {
	URL string

	mu           sync.Mutex
	server       *httptest.Server
	blocks       map[string]*node
	nextID       int
	failures     map[Operation]int
	requests     map[Operation]int
	omitInsertID bool
	malformed    map[Operation]bool
}

// NewServer starts a fake with the given empty documents and closes it when the test ends.
func NewServer(t testing.TB, documentIDs ...string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &Server{
		blocks:    map[string]*node{},
		failures:  map[Operation]int{},
		requests:  map[Operation]int{},
		malformed: map[Operation]bool{},
	}
	for _, documentID := range documentIDs {
		fake.blocks[documentID] = &node{id: documentID}
	}

	router := gin.New()
	router.GET("/blocks", fake.handleFetch)
	router.GET("/blocks/search", fake.handleSearch)
	router.POST("/blocks", fake.handleInsert)

	fake.server = httptest.NewServer(router)
	fake.URL = fake.server.URL
	t.Cleanup(fake.server.Close)
	return fake
}

// AddBlock appends a block under the parent and returns its id.
func (s *Server) AddBlock(parentID, markdown string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	blockID, ok := s.appendLocked(parentID, markdown)
	if !ok {
		panic(fmt.Sprintf("crafttest: unknown parent block %q", parentID))
	}
	return blockID
}

// Children returns the markdown of the direct children of a block in order.
func (s *Server) Children(blockID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.blocks[blockID]
	if !ok {
		return nil
	}
	markdown := make([]string, 0, len(parent.children))
	for _, childID := range parent.children {
		markdown = append(markdown, s.blocks[childID].markdown)
	}
	return markdown
}

// FindAll returns the ids of blocks under the document whose markdown equals the text.
func (s *Server) FindAll(documentID, markdown string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []string
	s.walkLocked(documentID, func(current *node) bool {
		if current.markdown == markdown {
			matches = append(matches, current.id)
		}
		return false
	})
	return matches
}

// FailWith makes every following request to the operation answer with the status.
// A zero status clears the failure.
func (s *Server) FailWith(operation Operation, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, operation)
		return
	}
	s.failures[operation] = status
}

// OmitInsertIDs makes inserts succeed without reporting the created block id.
func (s *Server) OmitInsertIDs(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitInsertID = omit
}

// ReturnMalformed makes the operation answer 200 with a body that violates its schema.
func (s *Server) ReturnMalformed(operation Operation, malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed[operation] = malformed
}

// Requests returns how many requests the operation received.
func (s *Server) Requests(operation Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[operation]
}

func (s *Server) begin(c *gin.Context, operation Operation) bool {
	s.mu.Lock()
	s.requests[operation]++
	status, failing := s.failures[operation]
	malformed := s.malformed[operation]
	s.mu.Unlock()

	if failing {
		c.JSON(status, gin.H{"code": "injected_failure", "message": fmt.Sprintf("%s unavailable", operation)})
		return false
	}
	if malformed {
		c.JSON(http.StatusOK, gin.H{"items": "unexpected"})
		return false
	}
	return true
}

func (s *Server) handleFetch(c *gin.Context) {
	if !s.begin(c, OperationFetch) {
		return
	}
	documentID := c.Query("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[documentID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "document not found"})
		return
	}
	c.JSON(http.StatusOK, s.renderLocked(documentID))
}

func (s *Server) handleSearch(c *gin.Context) {
	if !s.begin(c, OperationSearch) {
		return
	}
	documentID := c.Query("blockId")
	pattern := c.Query("pattern")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[documentID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "document not found"})
		return
	}
	items := []gin.H{}
	s.walkLocked(documentID, func(current *node) bool {
		if current.id != documentID && strings.Contains(current.markdown, pattern) {
			items = append(items, gin.H{"blockId": current.id})
		}
		return false
	})
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type insertPayload struct {
	Blocks []struct {
		Type     string `json:"type"`
		Markdown string `json:"markdown"`
	} `json:"blocks"`
	Position struct {
		Position string `json:"position"`
		PageID   string `json:"pageId"`
	} `json:"position"`
}

func (s *Server) handleInsert(c *gin.Context) {
	if !s.begin(c, OperationInsert) {
		return
	}
	var payload insertPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_body", "message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]gin.H, 0, len(payload.Blocks))
	for _, block := range payload.Blocks {
		blockID, ok := s.appendLocked(payload.Position.PageID, block.Markdown)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "parent block not found"})
			return
		}
		items = append(items, gin.H{"id": blockID})
	}
	if s.omitInsertID {
		c.JSON(http.StatusOK, gin.H{"items": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) appendLocked(parentID, markdown string) (string, bool) {
	parent, ok := s.blocks[parentID]
	if !ok {
		return "", false
	}
	s.nextID++
	blockID := fmt.Sprintf("block-%d", s.nextID)
	s.blocks[blockID] = &node{id: blockID, markdown: markdown}
	parent.children = append(parent.children, blockID)
	return blockID, true
}

func (s *Server) walkLocked(blockID string, visit func(*node) bool) bool {
	current, ok := s.blocks[blockID]
	if !ok {
		return false
	}
	if visit(current) {
		return true
	}
	for _, childID := range current.children {
		if s.walkLocked(childID, visit) {
			return true
		}
	}
	return false
}

func (s *Server) renderLocked(blockID string) gin.H {
	current := s.blocks[blockID]
	rendered := gin.H{"id": current.id, "type": "text", "markdown": current.markdown}
	if len(current.children) > 0 {
		content := make([]gin.H, 0, len(current.children))
		for _, childID := range current.children {
			content = append(content, s.renderLocked(childID))
		}
		rendered["content"] = content
	}
	return rendered
}
