package api

import "time"

// ContainerInfo is the wire view of one tracked container instance.
// Status carries the engine's vocabulary (running, exited, ...) merged
// with the manager's lifecycle states for instances still provisioning.
type ContainerInfo struct {
	InstanceID    string            `json:"instance_id"`
	ImageID       string            `json:"image_id"`
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	ImageName     string            `json:"image_name"`
	HostPort      int               `json:"host_port"`
	ExposedPort   int               `json:"exposed_port"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	Uptime        string            `json:"uptime,omitempty"`
	Credentials   map[string]string `json:"credentials,omitempty"`
}

// ImageDefinition is a registered image entry in the catalog
type ImageDefinition struct {
	ImageID         string            `json:"image_id"`
	Name            string            `json:"name"`
	ImageName       string            `json:"image_name"`
	ExposedPort     int               `json:"exposed_port"`
	HostPort        int               `json:"host_port,omitempty"`
	Command         []string          `json:"command,omitempty"`
	Entrypoint      []string          `json:"entrypoint,omitempty"`
	Credentials     map[string]string `json:"credentials,omitempty"`
	Description     string            `json:"description,omitempty"`
	Env             []string          `json:"env,omitempty"`
	HealthCheckPath string            `json:"health_check_path,omitempty"`
	RegistryAuth    string            `json:"registry_auth,omitempty"`
	RegisteredAt    time.Time         `json:"registered_at"`
	WaitTimeMs      int               `json:"wait_time,omitempty"`
}

// RegisterImageRequest is the body of POST /api/images/register
type RegisterImageRequest struct {
	Name            string            `json:"name" binding:"required"`
	ImageName       string            `json:"image_name" binding:"required"`
	ExposedPort     int               `json:"exposed_port" binding:"required"`
	HostPort        int               `json:"host_port,omitempty"`
	Command         []string          `json:"command,omitempty"`
	Entrypoint      []string          `json:"entrypoint,omitempty"`
	Credentials     map[string]string `json:"credentials,omitempty"`
	Description     string            `json:"description,omitempty"`
	Env             []string          `json:"env,omitempty"`
	HealthCheckPath string            `json:"health_check_path,omitempty"`
	RegistryAuth    string            `json:"registry_auth,omitempty"`
	WaitTimeMs      int               `json:"wait_time,omitempty"`
}

// RegisterImageResponse is the reply to an image registration
type RegisterImageResponse struct {
	Success bool             `json:"success"`
	ImageID string           `json:"image_id"`
	Message string           `json:"message"`
	Data    *ImageDefinition `json:"data,omitempty"`
}

// ListImagesResponse is the reply to GET /api/images
type ListImagesResponse struct {
	Success bool              `json:"success"`
	Images  []ImageDefinition `json:"images"`
	Count   int               `json:"count"`
}

// ImageResponse is the reply to a single image definition query
type ImageResponse struct {
	Success bool             `json:"success"`
	Data    *ImageDefinition `json:"data"`
}

// MessageResponse is a generic success reply carrying only a message
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StartContainerRequest is the body of POST /api/containers/start
type StartContainerRequest struct {
	ImageID string `json:"image_id" binding:"required"`
}

// StartContainerResponse is the reply to a container start
type StartContainerResponse struct {
	Success bool           `json:"success"`
	Data    *ContainerInfo `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// StopContainerResponse is the reply to a container stop
type StopContainerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ContainerStatusResponse is the reply to a container status query
type ContainerStatusResponse struct {
	Success bool           `json:"success"`
	Data    *ContainerInfo `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ListContainersResponse is the reply to GET /api/containers
type ListContainersResponse struct {
	Success    bool            `json:"success"`
	Containers []ContainerInfo `json:"containers"`
	Count      int             `json:"count"`
}

// SweepResponse is the reply to stop-all and cleanup requests
type SweepResponse struct {
	Success bool              `json:"success"`
	Stopped int               `json:"stopped"`
	IDs     []string          `json:"ids,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// PullImageResponse is the reply to POST /api/images/:id/pull
type PullImageResponse struct {
	Success bool   `json:"success"`
	ImageID string `json:"image_id"`
	Message string `json:"message"`
}

// HealthResponse is the reply to GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

// InfoResponse describes the service and its API surface
type InfoResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Error represents an API error body
type Error struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
