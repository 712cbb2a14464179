package client

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// MockGenerator stands in for the model service during development. It
// sleeps for Delay per call and returns deterministic bytes derived from
// the inputs.
type MockGenerator struct {
	Delay time.Duration
}

func NewMockGenerator(delay time.Duration) *MockGenerator {
	return &MockGenerator{Delay: delay}
}

func (m *MockGenerator) Transform(ctx context.Context, req *TransformRequest) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if len(req.Assets) == 0 {
		return nil, fmt.Errorf("transform: no assets")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "MOCKBLEND %s\n", req.JobID)
	for _, a := range req.Assets {
		fmt.Fprintf(&buf, "%s %s %d %d\n", a.SongID, a.Title, len(a.Midi), len(a.Tokens))
	}
	return buf.Bytes(), nil
}

func (m *MockGenerator) Encode(ctx context.Context, audio []byte) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(audio)+3)
	out = append(out, "ID3"...)
	return append(out, audio...), nil
}

func (m *MockGenerator) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockGenerator) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
