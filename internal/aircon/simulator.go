package aircon

import (
	"context"
	"sync"
	"time"
)

// SimulatorClient is an in-process AC for demos and tests. It emits snapshots
// on demand and folds accepted commands back into its state, honoring the
// effective flags the way the cloud does.
type SimulatorClient struct {
	mu    sync.Mutex
	state DeviceSnapshot

	snapshots chan DeviceSnapshot
}

// NewSimulatorClient creates a powered-off simulator with the given built-in
// sensor reading.
func NewSimulatorClient(acSensorTemp float64) *SimulatorClient {
	return &SimulatorClient{
		state: DeviceSnapshot{
			DeviceID:      "simulator",
			OperationMode: ModeHeat,
			ACSensorTemp:  &acSensorTemp,
			MinSetTemp:    16,
			MaxSetTemp:    31,
		},
		snapshots: make(chan DeviceSnapshot, 4),
	}
}

// Snapshots returns the device-state event channel.
func (s *SimulatorClient) Snapshots() <-chan DeviceSnapshot {
	return s.snapshots
}

// Send applies the flagged fields to the simulated device.
func (s *SimulatorClient) Send(ctx context.Context, in DeviceSnapshot, flags EffectiveFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if flags&FlagPower != 0 {
		s.state.Power = in.Power
	}
	if flags&FlagOperationMode != 0 {
		s.state.OperationMode = in.OperationMode
	}
	if flags&FlagSetTemperature != 0 && in.ACSetTemp != nil {
		v := *in.ACSetTemp
		s.state.ACSetTemp = &v
	}
	return nil
}

// SetSensorTemp updates the simulated built-in sensor reading.
func (s *SimulatorClient) SetSensorTemp(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ACSensorTemp = &v
}

// Emit publishes the current device state as a snapshot. It blocks until the
// snapshot is consumed or the context ends.
func (s *SimulatorClient) Emit(ctx context.Context) {
	s.mu.Lock()
	snap := s.state
	snap.ObservedAt = time.Now()
	s.mu.Unlock()

	select {
	case s.snapshots <- snap:
	case <-ctx.Done():
	}
}

// StartEmitting publishes a snapshot immediately and then on every interval
// until the context ends. The interval floor is one second.
func (s *SimulatorClient) StartEmitting(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Emit(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Emit(ctx)
			}
		}
	}()
}

// State returns a copy of the simulated device state.
func (s *SimulatorClient) State() DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
