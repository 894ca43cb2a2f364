package usecase

import "time"

// pendingPersistence is the single outstanding commit of a finished turn.
// It is armed when the animation starts and settles after the animation
// reports completion.
type pendingPersistence struct {
	epoch     uint64
	turnID    string
	fullText  string
	armedAt   time.Time
	timer     *time.Timer
	cancelled bool
}

func armPersistence(epoch uint64, turnID, fullText string, now time.Time) *pendingPersistence {
	return &pendingPersistence{epoch: epoch, turnID: turnID, fullText: fullText, armedAt: now}
}

// settle schedules fire after margin. Only the first call has an effect.
func (p *pendingPersistence) settle(margin time.Duration, fire func()) {
	if p.cancelled || p.timer != nil {
		return
	}
	if margin < 0 {
		margin = 0
	}
	p.timer = time.AfterFunc(margin, fire)
}

// cancel is idempotent and harmless after the timer has fired.
func (p *pendingPersistence) cancel() {
	p.cancelled = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
