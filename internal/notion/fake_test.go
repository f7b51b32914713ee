package notion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

const testToken = "secret-token"

// propertyValue is the wire form of the page properties the fake understands.
type propertyValue struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Title    []richText `json:"title,omitempty"`
	RichText []richText `json:"rich_text,omitempty"`
	Date     *fakeDateValue `json:"date,omitempty"`
	Relation []pageRef  `json:"relation,omitempty"`
	Status   *option    `json:"status,omitempty"`
	Select   *option    `json:"select,omitempty"`
	Checkbox *bool      `json:"checkbox,omitempty"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type fakeDateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end"`
}

type pageRef struct {
	ID string `json:"id"`
}

type option struct {
	Name string `json:"name"`
}

// fakeNotion is an in-memory stand-in for the Notion API.
type fakeNotion struct {
	mu        sync.Mutex
	pages     map[string]map[string]propertyValue
	parents   map[string]string
	databases map[string]gin.H
	queries   []map[string]any
	pageSize  int
	nextID    int
	failWith  int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{
		pages:     map[string]map[string]propertyValue{},
		parents:   map[string]string{},
		databases: map[string]gin.H{},
		pageSize:  100,
	}
}

// start serves the fake on an httptest server and returns a client for it.
func (f *fakeNotion) start(t *testing.T) *Client {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(f.authorize)
	r.POST("/pages", f.createPage)
	r.GET("/pages/:id", f.getPage)
	r.PATCH("/pages/:id", f.patchPage)
	r.GET("/databases/:id", f.getDatabase)
	r.POST("/databases/:id/query", f.queryDatabase)
	r.POST("/search", f.search)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(testToken, WithBaseURL(srv.URL))
}

// database builds the wire form of a database with the given property types.
func database(id, title string, types map[string]string) gin.H {
	props := gin.H{}
	for name, typ := range types {
		props[name] = gin.H{"id": "id-" + name, "name": name, "type": typ, typ: gin.H{}}
	}
	return gin.H{
		"object":     "database",
		"id":         id,
		"title":      []gin.H{{"type": "text", "plain_text": title, "text": gin.H{"content": title}}},
		"properties": props,
	}
}

func (f *fakeNotion) authorize(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+testToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"object": "error", "status": 401, "code": "unauthorized", "message": "API token is invalid.",
		})
		return
	}
	if c.GetHeader("Notion-Version") == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"object": "error", "status": 400, "code": "missing_version", "message": "Notion-Version header failed validation.",
		})
		return
	}
	f.mu.Lock()
	fail := f.failWith
	f.mu.Unlock()
	if fail != 0 {
		c.AbortWithStatusJSON(fail, gin.H{
			"object": "error", "status": fail, "code": "internal_server_error", "message": "Unexpected error.",
		})
		return
	}
	c.Next()
}

func (f *fakeNotion) put(databaseID string, props map[string]propertyValue) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("page-%d", f.nextID)
	f.pages[id] = props
	f.parents[id] = databaseID
	return id
}

func (f *fakeNotion) pageJSON(id string) gin.H {
	return gin.H{
		"object":           "page",
		"id":               id,
		"last_edited_time": "2024-05-01T10:00:00.000Z",
		"properties":       f.pages[id],
	}
}

func (f *fakeNotion) createPage(c *gin.Context) {
	var body struct {
		Parent     map[string]any           `json:"parent"`
		Properties map[string]propertyValue `json:"properties"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"object": "error", "status": 400, "code": "validation_error", "message": err.Error()})
		return
	}
	for name, p := range body.Properties {
		p.Type = propertyType(p)
		body.Properties[name] = p
	}
	databaseID, _ := body.Parent["database_id"].(string)
	id := f.put(databaseID, body.Properties)

	f.mu.Lock()
	defer f.mu.Unlock()
	c.JSON(http.StatusOK, f.pageJSON(id))
}

func (f *fakeNotion) getPage(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := c.Param("id")
	if _, ok := f.pages[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"object": "error", "status": 404, "code": "object_not_found", "message": "Could not find page."})
		return
	}
	c.JSON(http.StatusOK, f.pageJSON(id))
}

func (f *fakeNotion) patchPage(c *gin.Context) {
	var body struct {
		Properties map[string]propertyValue `json:"properties"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"object": "error", "status": 400, "code": "validation_error", "message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := c.Param("id")
	props, ok := f.pages[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"object": "error", "status": 404, "code": "object_not_found", "message": "Could not find page."})
		return
	}
	for name, p := range body.Properties {
		p.Type = propertyType(p)
		props[name] = p
	}
	c.JSON(http.StatusOK, f.pageJSON(id))
}

func (f *fakeNotion) getDatabase(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.databases[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"object": "error", "status": 404, "code": "object_not_found", "message": "Could not find database."})
		return
	}
	c.JSON(http.StatusOK, db)
}

func (f *fakeNotion) queryDatabase(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"object": "error", "status": 400, "code": "validation_error", "message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, body)

	var ids []string
	for i := 1; i <= f.nextID; i++ {
		id := fmt.Sprintf("page-%d", i)
		if f.parents[id] == c.Param("id") {
			ids = append(ids, id)
		}
	}
	f.writePage(c, ids, body)
}

func (f *fakeNotion) search(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"object": "error", "status": 400, "code": "validation_error", "message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var results []any
	for _, db := range f.databases {
		results = append(results, db)
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "has_more": false, "next_cursor": nil})
}

// writePage emits one page of results honoring start_cursor (an index).
func (f *fakeNotion) writePage(c *gin.Context, ids []string, body map[string]any) {
	start := 0
	if cursor, ok := body["start_cursor"].(string); ok {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := start + f.pageSize
	if end > len(ids) {
		end = len(ids)
	}

	results := make([]gin.H, 0, end-start)
	for _, id := range ids[start:end] {
		results = append(results, f.pageJSON(id))
	}
	resp := gin.H{"results": results, "has_more": end < len(ids), "next_cursor": nil}
	if end < len(ids) {
		resp["next_cursor"] = fmt.Sprint(end)
	}
	c.JSON(http.StatusOK, resp)
}

func propertyType(p propertyValue) string {
	switch {
	case p.Date != nil:
		return "date"
	case p.Relation != nil:
		return "relation"
	case p.Title != nil:
		return "title"
	case p.Status != nil:
		return "status"
	case p.Select != nil:
		return "select"
	case p.Checkbox != nil:
		return "checkbox"
	}
	return p.Type
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
