package tpbundle

import (
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

var accumulatorJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// accumulator collects the TPSets of every contributing source that fall
// within one fixed time window, keyed by (source, start time) so a
// retransmitted TPSet with an identical start time is silently ignored
// rather than double-counted (mirrors std::map::emplace's no-op-on-existing
// behavior in the original).
type accumulator struct {
	beginTime   dfmessages.Timestamp
	endTime     dfmessages.Timestamp
	sliceNumber uint64
	runNumber   dfmessages.RunNumber

	mu         sync.Mutex
	updateTime time.Time
	bySource   map[dfmessages.SourceID]map[dfmessages.Timestamp]dfmessages.TPSet
}

func newAccumulator(begin, end dfmessages.Timestamp, sliceNumber uint64, run dfmessages.RunNumber) *accumulator {
	return &accumulator{
		beginTime:   begin,
		endTime:     end,
		sliceNumber: sliceNumber,
		runNumber:   run,
		updateTime:  time.Now(),
		bySource:    make(map[dfmessages.SourceID]map[dfmessages.Timestamp]dfmessages.TPSet),
	}
}

// addTPSet folds tpset into this accumulator if it overlaps the window at
// all; a TPSet that misses entirely is dropped without an error or a log
// line, since edge TPSets are an expected consequence of assigning a TPSet
// to every accumulator it might overlap.
func (a *accumulator) addTPSet(tpset dfmessages.TPSet) {
	if tpset.EndTime <= a.beginTime || tpset.StartTime >= a.endTime {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bySource, ok := a.bySource[tpset.Origin]
	if !ok {
		bySource = make(map[dfmessages.Timestamp]dfmessages.TPSet)
		a.bySource[tpset.Origin] = bySource
	}
	if _, exists := bySource[tpset.StartTime]; exists {
		return
	}
	bySource[tpset.StartTime] = tpset
	a.updateTime = time.Now()
}

func (a *accumulator) lastUpdateTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updateTime
}

// getTimeSlice builds one Fragment per contributing source, spanning the
// earliest start time to the latest end time of that source's folded
// TPSets, with the TPSets themselves serialized (in start-time order) as
// the Fragment payload.
func (a *accumulator) getTimeSlice() dfmessages.TimeSlice {
	a.mu.Lock()
	defer a.mu.Unlock()

	fragments := make([]dfmessages.Fragment, 0, len(a.bySource))
	sources := make([]dfmessages.SourceID, 0, len(a.bySource))
	for src := range a.bySource {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Subsystem != sources[j].Subsystem {
			return sources[i].Subsystem < sources[j].Subsystem
		}
		return sources[i].ID < sources[j].ID
	})

	for _, src := range sources {
		bundle := a.bySource[src]
		starts := make([]dfmessages.Timestamp, 0, len(bundle))
		for st := range bundle {
			starts = append(starts, st)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

		tps := make([]dfmessages.TriggerPrimitive, 0, len(starts))
		var firstTime, lastTime dfmessages.Timestamp
		for i, st := range starts {
			tpset := bundle[st]
			if i == 0 {
				firstTime = tpset.StartTime
			}
			lastTime = tpset.EndTime
			tps = append(tps, tpset.TPs...)
		}

		payload, _ := accumulatorJSON.Marshal(tps)
		fragments = append(fragments, dfmessages.Fragment{
			RunNumber:    a.runNumber,
			ElementID:    src,
			WindowBegin:  firstTime,
			WindowEnd:    lastTime,
			Payload:      payload,
			FragmentType: "TriggerPrimitives",
		})
	}

	return dfmessages.TimeSlice{
		SliceNumber: a.sliceNumber,
		RunNumber:   a.runNumber,
		Fragments:   fragments,
	}
}
