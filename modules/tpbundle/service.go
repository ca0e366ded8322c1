package tpbundle

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// Service drives a Handler as a long-running component: one goroutine folds
// incoming TPSets into accumulators, another polls for properly aged time
// slices and forwards them to the timeslice connection (spec.md §6). On
// stop it flushes every remaining accumulator, matching
// TPBundleHandler::do_stop's unconditional drain.
type Service struct {
	services.Service

	h            *Handler
	tpsetRecv    endpoint.Receiver[dfmessages.TPSet]
	tsliceSend   endpoint.Sender[dfmessages.TimeSlice]
	pollInterval time.Duration
	queueTimeout time.Duration
}

// NewService creates a Service for one run, wrapping a fresh Handler.
func NewService(cfg Config, runNumber dfmessages.RunNumber, queueTimeout time.Duration,
	tpsetRecv endpoint.Receiver[dfmessages.TPSet], tsliceSend endpoint.Sender[dfmessages.TimeSlice]) *Service {

	poll := cfg.CoolingOffTime / 2
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	s := &Service{
		h:            New(cfg, runNumber),
		tpsetRecv:    tpsetRecv,
		tsliceSend:   tsliceSend,
		pollInterval: poll,
		queueTimeout: queueTimeout,
	}
	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)
	return s
}

func (s *Service) starting(_ context.Context) error {
	return nil
}

func (s *Service) running(ctx context.Context) error {
	level.Info(log.Logger).Log("msg", "tp bundle handler running", "run_number", s.h.runNumber)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ingestLoop(ctx)
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.C:
			s.emit(ctx, s.h.GetProperlyAgedTimeSlices())
		}
	}
}

func (s *Service) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		tpset, err := s.tpsetRecv.Receive(ctx, s.queueTimeout)
		if err != nil {
			continue
		}
		s.h.AddTPSet(tpset)
	}
}

func (s *Service) emit(ctx context.Context, slices []dfmessages.TimeSlice) {
	for _, ts := range slices {
		if err := s.tsliceSend.Send(ctx, ts, s.queueTimeout); err != nil {
			level.Warn(log.Logger).Log("msg", "failed to send time slice", "slice_number", ts.SliceNumber, "err", err)
		}
	}
}

func (s *Service) stopping(_ error) error {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.emit(flushCtx, s.h.GetAllRemainingTimeSlices())
	level.Info(log.Logger).Log("msg", "tp bundle handler stopped")
	return nil
}
