package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suren-cb/qatestsuit/internal/instance"
	"github.com/suren-cb/qatestsuit/pkg/api"
)

// healthHandler reports service liveness. The engine is pinged so a QA
// pipeline can tell "service up, engine down" apart from "all good";
// either way the endpoint answers 200.
func (ws *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	if err := ws.pinger.Ping(c.Request.Context()); err != nil {
		ws.logger.WithError(err).Warn("Engine ping failed during health check")
		status = "degraded"
	}

	c.JSON(http.StatusOK, api.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(ws.started).Seconds(),
	})
}

// infoHandler describes the service and its API surface.
func (ws *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.InfoResponse{
		Service: "qatestsuit",
		Version: ws.version,
		Endpoints: map[string]string{
			"register_image":   "POST /api/images/register",
			"list_images":      "GET /api/images",
			"get_image":        "GET /api/images/:id",
			"delete_image":     "DELETE /api/images/:id",
			"pull_image":       "POST /api/images/:id/pull",
			"start_container":  "POST /api/containers/start",
			"stop_container":   "POST /api/containers/:id/stop",
			"container_status": "GET /api/containers/:id",
			"list_containers":  "GET /api/containers",
			"stop_all":         "POST /api/containers/stop-all",
			"cleanup":          "POST /api/containers/cleanup",
			"health":           "GET /health",
		},
	})
}

// registerImageHandler adds an image definition to the catalog.
func (ws *Server) registerImageHandler(c *gin.Context) {
	var req api.RegisterImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Code:    http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}
	if req.ExposedPort < 1 || req.ExposedPort > 65535 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("exposed port must be in 1-65535, got %d", req.ExposedPort),
		})
		return
	}

	def, err := ws.catalog.Register(req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, api.RegisterImageResponse{
		Success: true,
		ImageID: def.ImageID,
		Message: "Image registered successfully",
		Data:    def,
	})
}

// listImagesHandler returns every registered image definition.
func (ws *Server) listImagesHandler(c *gin.Context) {
	defs, err := ws.catalog.List()
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.ListImagesResponse{
		Success: true,
		Images:  defs,
		Count:   len(defs),
	})
}

// getImageHandler returns one image definition by id.
func (ws *Server) getImageHandler(c *gin.Context) {
	def, err := ws.catalog.Get(c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.ImageResponse{Success: true, Data: def})
}

// deleteImageHandler removes an image definition from the catalog.
func (ws *Server) deleteImageHandler(c *gin.Context) {
	if err := ws.catalog.Delete(c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{
		Success: true,
		Message: "Image deleted successfully",
	})
}

// pullImageHandler fetches a catalog image ahead of its first start.
func (ws *Server) pullImageHandler(c *gin.Context) {
	id := c.Param("id")
	def, err := ws.catalog.Get(id)
	if err != nil {
		c.Error(err)
		return
	}

	if err := ws.puller.EnsurePresent(c.Request.Context(), def.ImageName, def.RegistryAuth); err != nil {
		c.Error(&instance.RuntimeError{Op: fmt.Sprintf("pull image %s", def.ImageName), Err: err})
		return
	}

	c.JSON(http.StatusOK, api.PullImageResponse{
		Success: true,
		ImageID: id,
		Message: "Image pulled successfully",
	})
}

// startContainerHandler starts a new instance of a catalog image.
func (ws *Server) startContainerHandler(c *gin.Context) {
	var req api.StartContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Code:    http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}

	def, err := ws.catalog.Get(req.ImageID)
	if err != nil {
		c.Error(err)
		return
	}

	info, err := ws.manager.Start(c.Request.Context(), instance.StartOptions{
		ImageID:      def.ImageID,
		ImageRef:     def.ImageName,
		ExposedPort:  def.ExposedPort,
		HostPort:     def.HostPort,
		Env:          def.Env,
		Command:      def.Command,
		Entrypoint:   def.Entrypoint,
		Credentials:  def.Credentials,
		RegistryAuth: def.RegistryAuth,
	})
	if err != nil {
		c.Error(err)
		return
	}

	// Some images need a moment after start before they accept traffic;
	// honoring the definition's wait keeps the "start, then immediately
	// hit the URL" pattern working for QA suites.
	if def.WaitTimeMs > 0 {
		select {
		case <-time.After(time.Duration(def.WaitTimeMs) * time.Millisecond):
		case <-c.Request.Context().Done():
		}
	}

	c.JSON(http.StatusCreated, api.StartContainerResponse{
		Success: true,
		Data:    info,
	})
}

// stopContainerHandler stops one instance and forgets it.
func (ws *Server) stopContainerHandler(c *gin.Context) {
	if err := ws.manager.Stop(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.StopContainerResponse{
		Success: true,
		Message: "Container stopped successfully",
	})
}

// containerStatusHandler returns the live status of one instance.
func (ws *Server) containerStatusHandler(c *gin.Context) {
	info, err := ws.manager.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.ContainerStatusResponse{
		Success: true,
		Data:    info,
	})
}

// listContainersHandler returns the live status of every instance.
func (ws *Server) listContainersHandler(c *gin.Context) {
	infos := ws.manager.List(c.Request.Context())

	c.JSON(http.StatusOK, api.ListContainersResponse{
		Success:    true,
		Containers: infos,
		Count:      len(infos),
	})
}

// stopAllHandler stops every tracked instance.
func (ws *Server) stopAllHandler(c *gin.Context) {
	result := ws.manager.StopAll(c.Request.Context())
	c.JSON(http.StatusOK, sweepResponse(result))
}

// cleanupHandler stops instances older than max_age_seconds, or the
// configured default age when the parameter is absent.
func (ws *Server) cleanupHandler(c *gin.Context) {
	maxAge := time.Duration(-1)
	if raw := c.Query("max_age_seconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_failed",
				Code:    http.StatusBadRequest,
				Message: fmt.Sprintf("max_age_seconds must be a non-negative integer, got %q", raw),
			})
			return
		}
		maxAge = time.Duration(seconds) * time.Second
	}

	result := ws.manager.Cleanup(c.Request.Context(), maxAge)
	c.JSON(http.StatusOK, sweepResponse(result))
}

func sweepResponse(result instance.SweepResult) api.SweepResponse {
	return api.SweepResponse{
		Success: len(result.Errors) == 0,
		Stopped: result.Stopped,
		IDs:     result.IDs,
		Errors:  result.Errors,
	}
}
