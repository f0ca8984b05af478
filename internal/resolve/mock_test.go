package resolve

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/venue-research/internal/model"
)

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
