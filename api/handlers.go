package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"synscope/geo"
	"synscope/scanner"
)

// ScanDefaults fill in the optional fields of a scan request.
type ScanDefaults struct {
	TimeoutSeconds float64
	Workers        int
}

// Server bundles dependencies for HTTP handlers.
type Server struct {
	store    TaskStore
	hosts    geo.Lookup
	defaults ScanDefaults
}

// NewServer creates a new API server instance.
func NewServer(store TaskStore, hosts geo.Lookup, defaults ScanDefaults) *Server {
	return &Server{store: store, hosts: hosts, defaults: defaults}
}

// RegisterRoutes attaches handlers to the provided Gin router group.
func (s *Server) RegisterRoutes(routes gin.IRoutes) {
	routes.POST("/scans", s.createScanHandler)
	routes.GET("/scans/:id", s.getScanHandler)
	routes.GET("/hosts/:ip", s.getHostInfoHandler)
}

var uuidV4Pattern = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[1-5][a-fA-F0-9]{3}-[abAB89][a-fA-F0-9]{3}-[a-fA-F0-9]{12}$`)

// @Summary      Create a new scan task
// @Description  Submit a SYN scan of one IPv4 target. The handler validates the target and port specification, persists the task and enqueues it for background workers before returning a UUID.
// @Description  **Lifecycle**: POST /scans answers with HTTP 202 Accepted plus the task identifier. Poll GET /scans/{id} to observe status transitions (pending → running → completed/failed). The report is attached only after completion.
// @Description  **Validation**: IPv6 targets, unresolvable host names and port specifications yielding no port in 1-65535 are rejected with 400.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest      true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Scan accepted. Example: {\"id\":\"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678\",\"status\":\"pending\"}"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON body or failed validation. Example: {\"error\":\"no valid ports to scan\"}"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key. Example: {\"error\":\"unauthorized\"}"
// @Failure      429          {object}  ErrorResponse         "Rate limit exceeded for the calling client. Example: {\"error\":\"rate limit exceeded\"}"
// @Failure      500          {object}  ErrorResponse         "Internal error while persisting or queueing the task. Example: {\"error\":\"failed to persist task\"}"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}

	if _, err := scanner.ResolveTarget(req.Target); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(scanner.ParsePortSpec(req.Ports)) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: scanner.ErrNoPorts.Error()})
		return
	}

	timeout := s.defaults.TimeoutSeconds
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	workers := s.defaults.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}

	taskID, err := generateUUID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to generate task id"})
		return
	}

	ctx := c.Request.Context()
	task := &ScanTask{
		ID:             taskID,
		Status:         StatusPending,
		Target:         req.Target,
		Ports:          req.Ports,
		TimeoutSeconds: timeout,
		Workers:        workers,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist task"})
		return
	}

	if err := s.store.PushToQueue(ctx, task.ID); err != nil {
		task.Status = StatusFailed
		task.Error = "failed to queue task"
		now := time.Now().UTC()
		task.CompletedAt = &now
		_ = s.store.UpdateTask(ctx, task)

		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to queue task"})
		return
	}

	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: task.Status})
}

// @Summary      Get scan status and results
// @Description  Retrieve a snapshot of a scan task. Supply the UUID obtained from POST /scans and poll this endpoint until the status is completed or failed.
// @Description  Once completed, report lists every probed port as Open, Closed or Filtered in request order, with service names for open ports. A scan cut short by shutdown is flagged with cancelled.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string      true  "Scan Task ID (UUID v4)"
// @Success      200  {object}  ScanTask    "Current task snapshot including the report when completed."
// @Failure      400  {object}  ErrorResponse  "Malformed task identifier. Example: {\"error\":\"invalid task id format\"}"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key. Example: {\"error\":\"unauthorized\"}"
// @Failure      404  {object}  ErrorResponse  "Task with the provided ID does not exist. Example: {\"error\":\"task not found\"}"
// @Failure      429  {object}  ErrorResponse  "Rate limit exceeded for the calling client. Example: {\"error\":\"rate limit exceeded\"}"
// @Failure      500  {object}  ErrorResponse  "Internal error when loading the task. Example: {\"error\":\"failed to load task\"}"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	id := c.Param("id")
	if !uuidV4Pattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id format"})
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// @Summary      Look up host information
// @Description  Country, region, city, coordinates and organization of an IPv4 address as reported by ip-api.com. Answers are cached in Redis.
// @Tags         Hosts
// @Produce      json
// @Param        ip   path      string        true  "IPv4 address"
// @Success      200  {object}  geo.HostInfo  "Host information."
// @Failure      400  {object}  ErrorResponse "Not an IPv4 address. Example: {\"error\":\"invalid ipv4 address\"}"
// @Failure      401  {object}  ErrorResponse "Missing or incorrect API key. Example: {\"error\":\"unauthorized\"}"
// @Failure      429  {object}  ErrorResponse "Rate limit exceeded for the calling client. Example: {\"error\":\"rate limit exceeded\"}"
// @Failure      502  {object}  ErrorResponse "The lookup service failed or answered unexpectedly. Example: {\"error\":\"host info lookup failed: private range\"}"
// @Security     ApiKeyAuth
// @Router       /hosts/{ip} [get]
func (s *Server) getHostInfoHandler(c *gin.Context) {
	ip := net.ParseIP(c.Param("ip"))
	if ip == nil || ip.To4() == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ipv4 address"})
		return
	}

	info, err := s.hosts.Lookup(c.Request.Context(), ip.To4().String())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// HealthHandler reports whether the backing store is reachable. It is served
// outside the versioned API, so it is not part of the swagger document.
func HealthHandler(store TaskStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	}
}

func generateUUID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// Variant bits; version 4 UUID.
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
