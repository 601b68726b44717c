package neuralnet

import "math"

// StepLR decays the learning rate by Gamma every StepSize epochs.
type StepLR struct {
	BaseLR   float64
	StepSize int
	Gamma    float64

	epoch int
}

// NewStepLR returns a schedule starting at epoch 0.
func NewStepLR(baseLR float64, stepSize int, gamma float64) *StepLR {
	return &StepLR{BaseLR: baseLR, StepSize: stepSize, Gamma: gamma}
}

// LR returns the learning rate for the current epoch.
func (s *StepLR) LR() float64 {
	if s.StepSize <= 0 {
		return s.BaseLR
	}
	return s.BaseLR * math.Pow(s.Gamma, float64(s.epoch/s.StepSize))
}

// Step advances one epoch.
func (s *StepLR) Step() { s.epoch++ }

// SchedulerState is the serialisable part of StepLR.
type SchedulerState struct {
	Epoch    int     `json:"last_epoch"`
	BaseLR   float64 `json:"base_lr"`
	StepSize int     `json:"step_size"`
	Gamma    float64 `json:"gamma"`
}

func (s *StepLR) State() SchedulerState {
	return SchedulerState{Epoch: s.epoch, BaseLR: s.BaseLR, StepSize: s.StepSize, Gamma: s.Gamma}
}

func (s *StepLR) SetState(st SchedulerState) {
	s.epoch = st.Epoch
	s.BaseLR = st.BaseLR
	s.StepSize = st.StepSize
	s.Gamma = st.Gamma
}
