package service

import "time"

// Test-only exports for the external service_test package, which holds the
// tests that import the generated mocks (importing them from the internal
// test package would cycle back into this package).

// DataUpdatedPayload aliases the unexported event payload for assertions.
type DataUpdatedPayload = dataUpdatedPayload

// SetNow overrides the service clock.
func (s *SyncService) SetNow(now func() time.Time) { s.now = now }
