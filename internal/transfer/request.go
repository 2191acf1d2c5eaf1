package transfer

import (
	"fmt"
	"strings"
	"sync"
)

// ChecksumPolicy governs what a checksum failure means for a download.
type ChecksumPolicy string

const (
	// PolicyFail rejects the download and leaves the destination untouched.
	PolicyFail ChecksumPolicy = "fail"
	// PolicyWarn reports the corruption and commits the content anyway.
	PolicyWarn ChecksumPolicy = "warn"
	// PolicyIgnore skips validation.
	PolicyIgnore ChecksumPolicy = "ignore"
)

// ParseChecksumPolicy parses a policy name case-insensitively. An empty name
// yields PolicyFail.
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch p := ChecksumPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyFail, nil
	case PolicyFail, PolicyWarn, PolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown checksum policy %q", s)
	}
}

// ResourceKind tells artifacts from repository metadata.
type ResourceKind string

const (
	ResourceArtifact ResourceKind = "artifact"
	ResourceMetadata ResourceKind = "metadata"
)

// State is the lifecycle position of a request.
type State int

const (
	StateActive State = iota
	StateDone
)

func (s State) String() string {
	if s == StateDone {
		return "done"
	}

	return "active"
}

// Outcome is what the engine writes back onto a Request.
type Outcome struct {
	Bytes int64
	Err   error
	State State
}

// Request identifies one resource transfer. Callers must not modify a
// request after submitting it; the engine only writes its outcome.
type Request struct {
	Resource   ResourceKind
	RemotePath string
	// LocalFile is the download destination or the upload source. A download
	// without a local file is an existence check.
	LocalFile      string
	ChecksumPolicy ChecksumPolicy
	// Trace is an opaque correlation id attached to logs and events.
	Trace string
	// Sink, when set, receives this request's events in addition to the
	// coordinator's sink.
	Sink EventSink

	mu      sync.Mutex
	outcome Outcome
}

// Outcome returns a snapshot of the request's outcome.
func (r *Request) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.outcome
}

func (r *Request) finish(bytes int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcome = Outcome{Bytes: bytes, Err: err, State: StateDone}
}

func (r *Request) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcome = Outcome{State: StateActive}
}

func (r *Request) policy() ChecksumPolicy {
	if r.ChecksumPolicy == "" {
		return PolicyFail
	}

	return r.ChecksumPolicy
}

func (r *Request) resourceKind() ResourceKind {
	if r.Resource == "" {
		return ResourceArtifact
	}

	return r.Resource
}

// Batch is a set of requests waited on as a unit.
type Batch struct {
	Downloads []*Request
	Uploads   []*Request
}

// Len returns the number of requests in the batch.
func (b Batch) Len() int {
	return len(b.Downloads) + len(b.Uploads)
}
