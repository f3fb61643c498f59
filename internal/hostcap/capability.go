// Package hostcap defines the host chat capability boundary: the component
// that actually executes a model call given unified messages and tools. The
// gateway consumes this contract; everything above it is protocol plumbing.
package hostcap

import (
	"context"
	"errors"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// ErrModelNotFound reports that no handle matches a requested identifier.
var ErrModelNotFound = errors.New("model not found")

// ModelHandle is an opaque reference to one concrete host-side model.
type ModelHandle struct {
	ID      string
	Version string
}

// PartStream yields host output parts one at a time. Recv returns io.EOF
// after the final part; any other error is a mid-stream host failure and
// terminates the stream.
type PartStream interface {
	Recv() (unified.StreamPart, error)
}

// Capability is the host chat capability contract.
//
// ListModels reports the handles available to this process. The listing is
// observed not to change within a process run, so callers may cache it and
// refresh only on an explicit directive.
type Capability interface {
	ListModels(ctx context.Context) ([]ModelHandle, error)
	Send(ctx context.Context, handle ModelHandle, req *unified.Request) (PartStream, error)
	CountTokens(ctx context.Context, handle ModelHandle, text string) (int, error)
}
