package core

// mockRandSource provides deterministic random draws for testing. Exhausted
// sequences fall back to 0 for ints and 0.99 for floats, which keeps the
// residual stochastic features quiet unless a test scripts them.
type mockRandSource struct {
	ints     []int
	intIdx   int
	floats   []float64
	floatIdx int
}

func (m *mockRandSource) Intn(n int) int {
	if m.intIdx >= len(m.ints) {
		return 0
	}
	val := m.ints[m.intIdx] % n
	m.intIdx++
	return val
}

func (m *mockRandSource) Float64() float64 {
	if m.floatIdx >= len(m.floats) {
		return 0.99
	}
	val := m.floats[m.floatIdx]
	m.floatIdx++
	return val
}

// scriptedSignalSource replays a fixed sequence of behavioral signals,
// repeating the last one once exhausted.
type scriptedSignalSource struct {
	signals []Signal
	idx     int
}

func (s *scriptedSignalSource) Sample(req *Request) Signal {
	if len(s.signals) == 0 {
		return Signal{}
	}
	if s.idx >= len(s.signals) {
		return s.signals[len(s.signals)-1]
	}
	sig := s.signals[s.idx]
	s.idx++
	return sig
}

// fixedScorer returns a constant quality factor and counts invocations.
type fixedScorer struct {
	factor float64
	calls  int
}

func (s *fixedScorer) Score(req *Request) (float64, QualityDetail) {
	s.calls++
	return s.factor, QualityDetail{Factor: s.factor, IsHighRisk: s.factor < 0.5}
}
