package healthkit

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"healthsync/internal/domain"
)

// Observe watches the spool directory and invokes notify for every watched
// metric type a new payload contains. A payload that cannot be decoded yet
// (the shell may still be writing it) notifies all watched types; the
// orchestrator's throttle absorbs the imprecision. The returned stop
// function releases the watcher.
func (s *Store) Observe(types []domain.MetricType, notify func(domain.MetricType)) (func(), error) {
	if len(types) == 0 {
		types = domain.AllMetricTypes
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(s.dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	watched := make(map[domain.MetricType]bool, len(types))
	for _, t := range types {
		watched[t] = true
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				for _, t := range s.changedTypes(event.Name, types) {
					if watched[t] {
						notify(t)
					}
				}
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("spool watcher error", "error", err)
			}
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			fsWatcher.Close()
			wg.Wait()
		})
	}
	return stop, nil
}

// changedTypes inspects a payload to find which metric types it carries.
// Decode failures fall back to every watched type.
func (s *Store) changedTypes(path string, watched []domain.MetricType) []domain.MetricType {
	payload, err := decodeExportFile(path)
	if err != nil {
		return watched
	}

	seen := make(map[domain.MetricType]bool)
	var out []domain.MetricType
	for _, sample := range payload.Samples {
		if t, ok := quantityTypes[sample.Type]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	// Workouts and sleep have no metric type of their own; wake the first
	// watched type so a sync still happens.
	if len(out) == 0 && (len(payload.Workouts) > 0 || len(payload.Sleep) > 0) && len(watched) > 0 {
		out = append(out, watched[0])
	}
	return out
}
