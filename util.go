package kvguard

import "time"

// Schedule repeatedly calls function with intervals until the returned
// channel is closed or written to
func Schedule(what func(), delay time.Duration) chan bool {
	stop := make(chan bool)

	go func() {
		for {
			what()
			select {
			case <-time.After(delay):
			case <-stop:
				return
			}
		}
	}()

	return stop
}
