package catalog

import (
	"fmt"
	"strings"
)

// Direction selects which side of an asset's lineage is walked.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// AllDirections lists the supported lineage directions.
var AllDirections = []Direction{Inbound, Outbound}

// Valid reports whether d is a supported direction.
func (d Direction) Valid() bool {
	for _, dir := range AllDirections {
		if d == dir {
			return true
		}
	}
	return false
}

// ParseDirection converts a user supplied string into a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("invalid direction %q: want inbound or outbound", s)
	}
	return d, nil
}

// Segment specs understood by the asset detail and search endpoints.
const (
	SummarySegments = "summary,systemAttributes"
	SurveySegments  = "selfAttributes,summary,lineage-level,lineage-distance:5"
)

// LineageSegments returns the segment spec for a full asset detail with
// lineage in the given direction.
func LineageSegments(d Direction) string {
	return "all,lineage-direction:" + string(d)
}

// Asset is a cataloged metadata object. The core only reads assets.
type Asset struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ClassType    string         `json:"class_type"`
	ResourceName string         `json:"resource_name,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	Lineage      []LineageGroup `json:"lineage,omitempty"`
}

// Ref returns the identifying subset of the asset.
func (a Asset) Ref() AssetRef {
	return AssetRef{ID: a.ID, Name: a.Name, ClassType: a.ClassType}
}

// AssetRef identifies an asset without its lineage payload.
type AssetRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassType string `json:"class_type"`
}

// LineageGroup is one lineage attachment of an asset. Hops are ordered by
// non-decreasing distance from the queried asset.
type LineageGroup struct {
	Direction Direction    `json:"direction,omitempty"`
	Hops      []LineageHop `json:"hops"`
}

// LineageHop holds the edge items found at one hop distance.
type LineageHop struct {
	Distance int           `json:"distance"`
	Items    []LineageItem `json:"items"`
}

// LineageItem is a single directed lineage edge as reported by the catalog.
type LineageItem struct {
	From     string `json:"from"`
	FromType string `json:"from_type"`
	To       string `json:"to"`
	ToType   string `json:"to_type"`
	FromURI  string `json:"from_uri"`
	ToURI    string `json:"to_uri"`
}

// Neighbor returns the display name and class type of the far end of the
// item when walking in direction d.
func (i LineageItem) Neighbor(d Direction) (name, classType string) {
	if d == Inbound {
		return i.From, i.FromType
	}
	return i.To, i.ToType
}

// Relationship is a typed, non-lineage link between two assets.
type Relationship struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Types []string `json:"types"`
}

// RelationshipQuery selects relationships by one of their ends.
type RelationshipQuery struct {
	Target string
	Source string
	Size   int
}

// Query is a search predicate. ClassTypes, when set, selects assets by
// taxonomy tag; otherwise Knowledge is sent as a knowledge-graph query.
type Query struct {
	Knowledge         string   `json:"knowledge,omitempty"`
	ClassTypes        []string `json:"class_types,omitempty"`
	CreatedWithinDays int      `json:"created_within_days,omitempty"`
}

func (q Query) String() string {
	if len(q.ClassTypes) > 0 {
		return "class in [" + strings.Join(q.ClassTypes, ", ") + "]"
	}
	if q.CreatedWithinDays > 0 {
		return fmt.Sprintf("%s (created within %d days)", q.Knowledge, q.CreatedWithinDays)
	}
	return q.Knowledge
}

// SearchPage is one page of search hits.
type SearchPage struct {
	Total  int     `json:"total"`
	Assets []Asset `json:"assets"`
}

// MessageContentFailed is the per-item message code for a publish
// operation that did not take effect.
const MessageContentFailed = "CONTENT_FAILED"

// DeleteResult is the batch-shaped response of a publish DELETE.
type DeleteResult struct {
	Items []DeleteItem `json:"items"`
}

// DeleteItem is the outcome of one submitted publish operation.
type DeleteItem struct {
	MessageCode string   `json:"message_code"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Deleted reports whether the (single) submitted operation took effect.
// Only an explicit CONTENT_FAILED counts as a failure.
func (r DeleteResult) Deleted() bool {
	for _, item := range r.Items {
		if item.MessageCode == MessageContentFailed {
			return false
		}
	}
	return true
}

// Reason returns the first validation reason attached to the response.
func (r DeleteResult) Reason() string {
	for _, item := range r.Items {
		if len(item.Reasons) > 0 {
			return item.Reasons[0]
		}
	}
	return ""
}

// JobStatus is the state of an asynchronous catalog job.
type JobStatus string

const (
	JobRunning             JobStatus = "RUNNING"
	JobCompleted           JobStatus = "COMPLETED"
	JobFailed              JobStatus = "FAILED"
	JobCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobPartialCompleted    JobStatus = "PARTIAL_COMPLETED"
)

// TerminalStatuses is the default set of states that end a job.
var TerminalStatuses = []JobStatus{JobCompleted, JobFailed, JobCompletedWithErrors, JobPartialCompleted}

// ParseJobStatus normalizes a wire status; the API reports some states
// with spaces ("COMPLETED WITH ERRORS").
func ParseJobStatus(s string) JobStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	return JobStatus(strings.ReplaceAll(s, " ", "_"))
}

// IsTerminal reports whether s is one of the default terminal states.
// Unknown states are not terminal.
func (s JobStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// JobHandle is returned by asynchronous operations. JobID is empty when
// the operation completed inline, in which case Status carries the outcome.
type JobHandle struct {
	JobID  string    `json:"job_id,omitempty"`
	Status JobStatus `json:"status,omitempty"`
}

// Source is a registered catalog source (scanner).
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}
