package main

import (
	"context"
	"errors"
	"testing"
)

type shutdownLog struct {
	steps []string
}

type fakeStopper struct {
	log *shutdownLog
	err error
}

func (s *fakeStopper) Stop(context.Context) error {
	s.log.steps = append(s.log.steps, "stop")
	return s.err
}

type fakePool struct {
	log *shutdownLog
}

func (p *fakePool) Close() {
	p.log.steps = append(p.log.steps, "close")
}

func TestArchiveHandle_Close(t *testing.T) {
	stopErr := errors.New("flush failed")

	tests := []struct {
		name    string
		stopErr error
	}{
		{"clean", nil},
		{"writer error", stopErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &shutdownLog{}
			h := &archiveHandle{
				writer: &fakeStopper{log: log, err: tt.stopErr},
				pool:   &fakePool{log: log},
			}

			err := h.Close(context.Background())
			if !errors.Is(err, tt.stopErr) {
				t.Errorf("Close() = %v, want %v", err, tt.stopErr)
			}
			if len(log.steps) != 2 || log.steps[0] != "stop" || log.steps[1] != "close" {
				t.Errorf("steps = %v, want [stop close]", log.steps)
			}
		})
	}
}
