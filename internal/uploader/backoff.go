package uploader

import (
	"math/rand/v2"
	"time"
)

const jitterMax = 500 * time.Millisecond

// backoffDelay doubles the base delay per attempt, caps it, and adds up to
// jitterMax of random jitter so retry storms spread out.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	return delay + rand.N(jitterMax)
}
