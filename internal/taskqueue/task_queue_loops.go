package taskqueue

// This file contains the background goroutine loop, which runs until Stop.
// The logic inside the loop (next, execute) is tested separately.

// runLoop drains units one at a time in FIFO order
func (q *Queue) runLoop() {
	defer q.wg.Done()

	for {
		for {
			if q.ctx.Err() != nil {
				return
			}
			unit := q.next()
			if unit == nil {
				break
			}
			q.execute(unit)
		}

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return
		}
	}
}
