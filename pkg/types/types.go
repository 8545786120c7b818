package types

import (
	"math"
	"time"
)

// Execution is one user-submitted run of an application
type Execution struct {
	ID           uint64                  `json:"id"`
	Name         string                  `json:"name"`
	UserID       string                  `json:"user_id"`
	Description  *ApplicationDescription `json:"description"`
	Status       ExecutionStatus         `json:"status"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	TimeSubmit   time.Time               `json:"time_submit"`
	TimeStart    *time.Time              `json:"time_start,omitempty"`
	TimeEnd      *time.Time              `json:"time_end,omitempty"`
	LastAccess   *time.Time              `json:"last_access,omitempty"` // last request seen by the proxy
}

// ApplicationDescription is the immutable snapshot of a submitted application
type ApplicationDescription struct {
	Name           string               `json:"name" yaml:"name"`
	Version        int                  `json:"version" yaml:"version"`
	WillEnd        bool                 `json:"will_end" yaml:"will_end"`
	Priority       int                  `json:"priority" yaml:"priority"`
	RequiresBinary bool                 `json:"requires_binary" yaml:"requires_binary"`
	Services       []ServiceDescription `json:"services" yaml:"services"`
}

// ServiceDescription describes one service of an application
type ServiceDescription struct {
	Name        string            `json:"name" yaml:"name"`
	Image       string            `json:"docker_image" yaml:"docker_image"`
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Environment []string          `json:"environment,omitempty" yaml:"environment,omitempty"`
	Monitor     bool              `json:"monitor" yaml:"monitor"`
	TotalCount  int               `json:"total_count" yaml:"total_count"`
	Resources   ServiceResources  `json:"required_resources" yaml:"required_resources"`
	Ports       []PortDescription `json:"ports,omitempty" yaml:"ports,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ServiceResources is the per-instance resource demand of a service
type ServiceResources struct {
	Cores       float64 `json:"cores" yaml:"cores"`
	MemoryBytes int64   `json:"memory" yaml:"memory"`
}

// PortDescription declares a port exposed by a service
type PortDescription struct {
	Name           string `json:"name" yaml:"name"`
	Protocol       string `json:"protocol" yaml:"protocol"` // "tcp" or "udp"
	PortNumber     int    `json:"port_number" yaml:"port_number"`
	URLTemplate    string `json:"url_template,omitempty" yaml:"url_template,omitempty"`
	IsMainEndpoint bool   `json:"is_main_endpoint" yaml:"is_main_endpoint"`
}

// Key returns the backend-facing port key, e.g. "8888/tcp"
func (p PortDescription) Key() string {
	return PortKey(p.PortNumber, p.Protocol)
}

// Instances returns how many backend instances the service needs
func (s ServiceDescription) Instances() int {
	if s.TotalCount < 1 {
		return 1
	}
	return s.TotalCount
}

// RequiredResources sums the resource demand of every service instance
func (a *ApplicationDescription) RequiredResources() ApplicationResources {
	var res ApplicationResources
	if a == nil {
		return res
	}
	for _, s := range a.Services {
		n := float64(s.Instances())
		res.Cores += s.Resources.Cores * n
		res.MemoryBytes += s.Resources.MemoryBytes * int64(s.Instances())
	}
	return res
}

// ApplicationResources is the resource demand vector of an application.
// It is a value type and never changes once attached to an execution.
type ApplicationResources struct {
	Cores       float64
	MemoryBytes int64
}

// CoreCount returns the number of whole cores needed, rounding fractions up
func (r ApplicationResources) CoreCount() int {
	return int(math.Ceil(r.Cores))
}

// ResourceSnapshot is a timestamped view of cluster-wide resources.
// Snapshots are replaced wholesale and never mutated after capture.
type ResourceSnapshot struct {
	CoresTotal  int
	CoresUsed   float64
	MemoryTotal int64
	MemoryUsed  int64
	Containers  int
	Timestamp   time.Time
}

// CoresAvailable returns the cores not reserved by running services
func (s ResourceSnapshot) CoresAvailable() float64 {
	return float64(s.CoresTotal) - s.CoresUsed
}

// MemoryAvailable returns the memory not reserved by running services
func (s ResourceSnapshot) MemoryAvailable() int64 {
	return s.MemoryTotal - s.MemoryUsed
}

// Service is one backend-managed container belonging to an execution
type Service struct {
	ID          uint64             `json:"id"`
	ExecutionID uint64             `json:"execution_id"`
	Name        string             `json:"name"`
	Description ServiceDescription `json:"description"`
	BackendID   string             `json:"backend_id,omitempty"`
	Status      ServiceStatus      `json:"status"`
	Ports       []PublishedPort    `json:"ports,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// IsMonitor reports whether the service is authoritative for its execution's liveness
func (s *Service) IsMonitor() bool {
	return s.Description.Monitor
}

// PublishedPort maps a declared port to the address the backend published for it
type PublishedPort struct {
	Internal     string `json:"internal"` // "8888/tcp"
	ExternalIP   string `json:"external_ip,omitempty"`
	ExternalPort int    `json:"external_port,omitempty"`
}

// Published reports whether the backend has published an external address
func (p PublishedPort) Published() bool {
	return p.ExternalIP != "" && p.ExternalPort > 0
}

// ServiceStatus is the backend-observed state of a service
type ServiceStatus string

const (
	ServiceStatusCreated    ServiceStatus = "created"
	ServiceStatusStarting   ServiceStatus = "starting"
	ServiceStatusActive     ServiceStatus = "active"
	ServiceStatusTerminated ServiceStatus = "terminated"
	ServiceStatusError      ServiceStatus = "error"
)

// Roles understood by the API tier
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User identifies the caller of an API-tier operation
type User struct {
	ID   string `json:"user_id"`
	Role string `json:"role"`
}

// IsAdmin reports whether the user may act on other users' executions
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Owns reports whether the user may act on the execution
func (u User) Owns(e *Execution) bool {
	return u.IsAdmin() || e.UserID == u.ID
}

// Endpoint is a public URL exposed by one port of a running service
type Endpoint struct {
	ServiceID uint64 `json:"service_id"`
	Service   string `json:"service"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Main      bool   `json:"main"`
}
