package scheduler

// Subscribe creates a buffered event channel for a job. The channel is
// closed after the job's terminal event.
func (s *Scheduler) Subscribe(jobID string) chan Event {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes ch. It is safe to call after the channel was closed.
func (s *Scheduler) Unsubscribe(jobID string, ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chans := s.subs[jobID]
	for i, c := range chans {
		if c == ch {
			s.subs[jobID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.subs[jobID]) == 0 {
		delete(s.subs, jobID)
	}
}

// notify sends an event to all subscribers of a job without blocking.
func (s *Scheduler) notify(jobID string, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// notifyAndClose sends the final event and closes all channels for the job.
func (s *Scheduler) notifyAndClose(jobID string, event Event) {
	s.mu.Lock()
	chans := s.subs[jobID]
	delete(s.subs, jobID)
	s.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
		close(ch)
	}
}
