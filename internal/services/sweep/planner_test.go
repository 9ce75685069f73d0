package sweep

import (
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockRand struct {
	mock.Mock
}

func (m *mockRand) Intn(n int) int {
	return m.Called(n).Int(0)
}

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := NewPlanner(DefaultPlannerConfig(), &mockRand{})
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestNextCheckDelay_Ordered_UsesRand() {
	m := &mockRand{}
	m.On("Intn", 3601).Return(600).Once()

	d := NewPlanner(DefaultPlannerConfig(), m).NextCheckDelay(models.TrackStatusOrdered)
	s.Equal(40*time.Minute, d)
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNextCheckDelay_FixedWindow() {
	m := &mockRand{}
	p := NewPlanner(PlannerConfig{OrderedMinDelay: time.Minute, OrderedMaxDelay: time.Minute}, m)
	s.Equal(time.Minute, p.NextCheckDelay(models.TrackStatusOrdered))
	m.AssertNotCalled(s.T(), "Intn", mock.Anything)
}

func (s *PlannerSuite) TestNextCheckDelay_OtherStates() {
	p := NewPlanner(DefaultPlannerConfig(), &mockRand{})
	s.Equal(60*time.Minute, p.NextCheckDelay(models.TrackStatusPartiallyShipped))
	s.Equal(15*time.Minute, p.NextCheckDelay(models.TrackStatusPending))
	s.Equal(15*time.Minute, p.NextCheckDelay(models.TrackStatusNew))
	s.Equal(30*24*time.Hour, p.NextCheckDelay(models.TrackStatusShipped))
	s.Equal(30*24*time.Hour, p.NextCheckDelay(models.TrackStatusCancelled))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
