package batch

import (
	"sync"
	"time"
)

type PairResult struct {
	Product    string `json:"product"`
	Background string `json:"background"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

// Summary 一次批处理的结果
type Summary struct {
	RunID           string            `json:"run_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Workers         int               `json:"workers"`
	Products        int               `json:"products"`
	Backgrounds     int               `json:"backgrounds"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	ProductFailures map[string]string `json:"product_failures,omitempty"`
	Pairs           []PairResult      `json:"pairs"`

	mu sync.Mutex
}

func (s *Summary) addPair(result PairResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Pairs = append(s.Pairs, result)
	if result.Error == "" {
		s.Succeeded++
	} else {
		s.Failed++
	}
}

func (s *Summary) addProductFailure(product string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ProductFailures == nil {
		s.ProductFailures = make(map[string]string)
	}
	s.ProductFailures[product] = err.Error()
}
