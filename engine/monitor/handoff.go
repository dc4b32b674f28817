package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
	"github.com/WessleyAI/reddit-monitor/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Handoff delivers a finished RunResult downstream.
type Handoff interface {
	Name() string
	Deliver(ctx context.Context, r *domain.RunResult) error
}

// ErrNoArtifact is returned by LoadArtifact when no run has been written yet.
var ErrNoArtifact = errors.New("no run artifact")

// ArtifactHandoff writes the RunResult as indented JSON. It is the durable
// handoff: seen state is only committed once it succeeds.
type ArtifactHandoff struct {
	Path string
}

// Name implements Handoff.
func (a ArtifactHandoff) Name() string { return "artifact" }

// Deliver implements Handoff.
func (a ArtifactHandoff) Deliver(_ context.Context, r *domain.RunResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	return fileutil.WriteAtomic(a.Path, append(data, '\n'))
}

// LoadArtifact reads a RunResult written by ArtifactHandoff.
func LoadArtifact(path string) (*domain.RunResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoArtifact, path)
	}
	if err != nil {
		return nil, err
	}
	var r domain.RunResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &r, nil
}

// NATSHandoff publishes the RunResult on a subject. The run ID is the
// message ID so JetStream consumers can drop duplicates.
type NATSHandoff struct {
	Conn    *nats.Conn
	Subject string
}

// Name implements Handoff.
func (n NATSHandoff) Name() string { return "nats" }

// Deliver implements Handoff.
func (n NATSHandoff) Deliver(ctx context.Context, r *domain.RunResult) error {
	return natsutil.Publish(ctx, n.Conn, n.Subject, r.Meta.RunID, r)
}
