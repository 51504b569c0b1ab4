package bot

// Metrics receives engine events. observability.Metrics implements it.
type Metrics interface {
	MessageReceived(channel string)
	TriggerFired(action string)
	FlushCompleted(outcome string)
	CompletionFallback()
	SpeechFailed()
	BroadcastSend(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(string) {}
func (nopMetrics) TriggerFired(string)    {}
func (nopMetrics) FlushCompleted(string)  {}
func (nopMetrics) CompletionFallback()    {}
func (nopMetrics) SpeechFailed()          {}
func (nopMetrics) BroadcastSend(bool)     {}
