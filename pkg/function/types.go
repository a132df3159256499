package function

import (
	"fmt"
	"strings"
)

// Type is the runtime kind of a function.
type Type string

const (
	TypeFunction Type = "FUNCTION"
	TypeImage    Type = "IMAGE"
)

// Source tells the platform where the function code comes from.
type Source string

const (
	SourceGithub  Source = "GITHUB"
	SourceStorage Source = "STORAGE"
	SourceDocker  Source = "DOCKER"
)

// EventType is the trigger of a function.
type EventType string

const (
	EventHTTP  EventType = "HTTP"
	EventQueue EventType = "QUEUE_EVENT"
)

// Status is the declared lifecycle state kept by the registry.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDeployed   Status = "DEPLOYED"
	StatusUndeployed Status = "UNDEPLOYED"
)

var (
	Types      = []Type{TypeFunction, TypeImage}
	Sources    = []Source{SourceGithub, SourceStorage, SourceDocker}
	EventTypes = []EventType{EventHTTP, EventQueue}
	Statuses   = []Status{StatusPending, StatusDeployed, StatusUndeployed}
)

func (t Type) Valid() bool {
	return t == TypeFunction || t == TypeImage
}

func (s Source) Valid() bool {
	return s == SourceGithub || s == SourceStorage || s == SourceDocker
}

func (e EventType) Valid() bool {
	return e == EventHTTP || e == EventQueue
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDeployed || s == StatusUndeployed
}

// Definition is a function as the registry stores it.
type Definition struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	Type           Type      `json:"type"`
	Source         Source    `json:"source"`
	LocationURL    string    `json:"location_url"`
	EventType      EventType `json:"event_type"`
	RedisHost      *string   `json:"redis_host"`
	RedisQueueName *string   `json:"redis_queue_name"`
	Status         Status    `json:"status,omitempty"`
}

// Artifact is the code package uploaded for STORAGE functions. It is never persisted.
type Artifact struct {
	Filename string
	Content  []byte
}

// Candidate is a definition being edited, together with the artifact chosen for upload.
type Candidate struct {
	Definition
	Artifact *Artifact
}

// HasArtifact reports whether a non-empty artifact was supplied.
func (c Candidate) HasArtifact() bool {
	return c.Artifact != nil && len(c.Artifact.Content) > 0
}

// MetadataPatch holds the fields an update is allowed to change.
// Location and artifact are deliberately absent.
type MetadataPatch struct {
	Name           string    `json:"name"`
	Type           Type      `json:"type"`
	Source         Source    `json:"source"`
	EventType      EventType `json:"event_type"`
	Status         Status    `json:"status,omitempty"`
	RedisHost      *string   `json:"redis_host"`
	RedisQueueName *string   `json:"redis_queue_name"`
}

// Patch extracts the mutable metadata of a definition.
func (d Definition) Patch() MetadataPatch {
	return MetadataPatch{
		Name:           d.Name,
		Type:           d.Type,
		Source:         d.Source,
		EventType:      d.EventType,
		Status:         d.Status,
		RedisHost:      d.RedisHost,
		RedisQueueName: d.RedisQueueName,
	}
}

// Apply returns a copy of d with the patch applied.
func (p MetadataPatch) Apply(d Definition) Definition {
	d.Name = p.Name
	d.Type = p.Type
	d.Source = p.Source
	d.EventType = p.EventType
	if p.Status != "" {
		d.Status = p.Status
	}
	d.RedisHost = p.RedisHost
	d.RedisQueueName = p.RedisQueueName
	return d
}

// DeploymentURL is the gateway address a deployed function is served on.
// Pending functions have none.
func (d Definition) DeploymentURL(gateway, prefix string) string {
	if d.ID == "" || d.Status == StatusPending {
		return ""
	}
	return fmt.Sprintf("%s/function/%s%s", strings.TrimSuffix(gateway, "/"), prefix, d.ID)
}

// DisplayLocation renders the location for humans. Uploaded packages that live
// in the platform's internal store are not browsable.
func (d Definition) DisplayLocation() string {
	if d.Source == SourceStorage && !strings.HasPrefix(d.LocationURL, "http") {
		return "Internal Storage"
	}
	return d.LocationURL
}

// LiveStatus is the orchestrator's view of a deployed function.
type LiveStatus struct {
	State             string `json:"status"`
	ReplicasDesired   int    `json:"replicas"`
	ReplicasAvailable int    `json:"availableReplicas"`
}

// Normalize returns the definition that would actually be sent to the registry:
// IMAGE functions are pinned to DOCKER, queue settings only survive for
// QUEUE_EVENT functions and empty queue settings become null.
func Normalize(d Definition) Definition {
	d.Name = strings.TrimSpace(d.Name)
	d.LocationURL = strings.TrimSpace(d.LocationURL)
	if d.Type == TypeImage {
		d.Source = SourceDocker
	}
	if d.EventType != EventQueue {
		d.RedisHost = nil
		d.RedisQueueName = nil
		return d
	}
	d.RedisHost = nullIfEmpty(d.RedisHost)
	d.RedisQueueName = nullIfEmpty(d.RedisQueueName)
	return d
}

func nullIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a convenience for the optional queue fields.
func StringPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
