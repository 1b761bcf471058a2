package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonwraymond/shaderexec/response"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 8 << 20

// Handler serves the catalog and the dispatcher over HTTP.
type Handler struct {
	catalog *Catalog
	d       Dispatcher
}

// RegisterRoutes mounts the HTTP API on r.
func RegisterRoutes(r *gin.Engine, catalog *Catalog, d Dispatcher) {
	h := &Handler{catalog: catalog, d: d}

	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	{
		v1.GET("/tools", h.ListTools)
		v1.GET("/tools/:name", h.DescribeTool)
		v1.POST("/tools/:name", h.CallTool)
	}
}

// NewRouter returns a gin engine with recovery and the API routes.
func NewRouter(catalog *Catalog, d Dispatcher) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, catalog, d)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTools lists the catalog, or ranks it against ?q=.
func (h *Handler) ListTools(c *gin.Context) {
	if q := c.Query("q"); q != "" {
		limit := 10
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		results, err := h.catalog.Search(q, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": h.catalog.Tools()})
}

// DescribeTool returns a tool's documentation and examples.
func (h *Handler) DescribeTool(c *gin.Context) {
	doc, err := h.catalog.Describe(c.Param("name"))
	if errors.Is(err, ErrUnknownTool) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "describe failed"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// CallTool runs a tool with the request body as its arguments. The body
// is the ToolResponse; the status reflects its kind.
func (h *Handler) CallTool(c *gin.Context) {
	name := Name(c.Param("name"))
	if !h.catalog.Has(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool " + strconv.Quote(name)})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	resp := h.d.DispatchJSON(c.Request.Context(), name, body)
	c.JSON(StatusCode(resp), resp)
}

// StatusCode maps a response to an HTTP status. Compile errors, failed
// probes and runner failures are answers, not transport failures, so
// they stay 200.
func StatusCode(resp response.ToolResponse) int {
	if resp.ExecutionError == nil {
		return http.StatusOK
	}
	switch resp.ExecutionError.Reason {
	case response.ReasonValidation:
		return http.StatusBadRequest
	case response.ReasonResourceExhausted:
		return http.StatusTooManyRequests
	case response.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
