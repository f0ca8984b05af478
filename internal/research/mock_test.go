package research

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/venue-research/internal/events"
	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/pkg/llm"
)

// --- Graph Mocks ---

type mockGraph struct {
	mock.Mock
}

func (m *mockGraph) GetPlace(ctx context.Context, placeID string) (*model.Place, error) {
	args := m.Called(ctx, placeID)
	if p := args.Get(0); p != nil {
		return p.(*model.Place), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) VenuesInPlace(ctx context.Context, placeID string) ([]model.Venue, error) {
	args := m.Called(ctx, placeID)
	if v := args.Get(0); v != nil {
		return v.([]model.Venue), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) ConvergenceSignals(ctx context.Context, placeID string) (map[string]model.ConvergenceSignal, error) {
	args := m.Called(ctx, placeID)
	if v := args.Get(0); v != nil {
		return v.(map[string]model.ConvergenceSignal), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) ApplyResearchSignals(ctx context.Context, updates []model.GraphUpdate) (int64, error) {
	args := m.Called(ctx, updates)
	return args.Get(0).(int64), args.Error(1)
}

// batches returns the update batches passed to ApplyResearchSignals.
func (m *mockWriter) batches() [][]model.GraphUpdate {
	var out [][]model.GraphUpdate
	for _, c := range m.Calls {
		if c.Method == "ApplyResearchSignals" {
			out = append(out, c.Arguments.Get(1).([]model.GraphUpdate))
		}
	}
	return out
}

// --- LLM Fake ---

// fakeProvider answers Pass A and Pass B by model name.
type fakeProvider struct {
	mu    sync.Mutex
	calls []llm.Request
	passA func() (*llm.Response, error)
	passB func() (*llm.Response, error)
}

func (f *fakeProvider) Name() string { return "anthropic" }

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if req.Model == passAModel {
		return f.passA()
	}
	return f.passB()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) (*llm.Response, error) {
	return &llm.Response{
		Text:  text,
		Model: passBModel,
		Usage: llm.Usage{InputTokens: 10000, OutputTokens: 2000},
	}, nil
}

// --- Events Fake ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobFinished
}

func (p *recordingPublisher) PublishJobFinished(_ context.Context, ev events.JobFinished) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.JobFinished {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.JobFinished, len(p.events))
	copy(out, p.events)
	return out
}
