package usecase

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

const (
	DefaultTypingDelay = 50 * time.Millisecond
	ReplayTypingDelay  = 30 * time.Millisecond
)

// Animator reveals an already complete text one character at a time.
// Characters are Unicode code points.
type Animator struct {
	delay time.Duration
}

// NewAnimator returns an animator that emits one character per delay. A
// non-positive delay emits every step back to back.
func NewAnimator(delay time.Duration) *Animator {
	if delay < 0 {
		delay = 0
	}
	return &Animator{delay: delay}
}

func (a *Animator) Delay() time.Duration { return a.delay }

// Duration is the total playback time for text.
func (a *Animator) Duration(text string) time.Duration {
	return time.Duration(utf8.RuneCountInString(text)) * a.delay
}

// AnimationJob is one running playback.
type AnimationJob struct {
	fullText  string
	stop      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool
	emitted   atomic.Int64
	done      chan struct{}
}

// Start plays fullText. Character i is published at offset i*delay through
// onStep, which receives the accumulated prefix. onDone runs once after the
// last step, or right away for an empty text. Neither callback runs on the
// caller's goroutine.
func (a *Animator) Start(fullText string, onStep func(prefix string), onDone func()) *AnimationJob {
	j := newJob(fullText)
	a.play(j, onStep, onDone)
	return j
}

// newJob returns a job that has not started playing. Callers that need the
// handle inside their callbacks publish it before calling play.
func newJob(fullText string) *AnimationJob {
	return &AnimationJob{
		fullText: fullText,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (a *Animator) play(j *AnimationJob, onStep func(string), onDone func()) {
	go a.run(j, onStep, onDone)
}

func (a *Animator) run(j *AnimationJob, onStep func(string), onDone func()) {
	defer close(j.done)

	var tick <-chan time.Time
	if a.delay > 0 {
		ticker := time.NewTicker(a.delay)
		defer ticker.Stop()
		tick = ticker.C
	}

	var b strings.Builder
	b.Grow(len(j.fullText))
	i := 0
	for _, r := range j.fullText {
		if i > 0 && tick != nil {
			select {
			case <-j.stop:
				return
			case <-tick:
			}
		}
		if j.Cancelled() {
			return
		}
		b.WriteRune(r)
		i++
		j.emitted.Store(int64(i))
		if onStep != nil {
			onStep(b.String())
		}
	}
	if j.Cancelled() {
		return
	}
	if onDone != nil {
		onDone()
	}
}

// Cancel stops every step that has not started yet. It is safe to call
// more than once and after the job has finished. A step that is already
// executing is not interrupted, so callers that need a hard barrier check
// Cancelled under their own lock before acting.
func (j *AnimationJob) Cancel() {
	j.stopOnce.Do(func() {
		j.cancelled.Store(true)
		close(j.stop)
	})
}

func (j *AnimationJob) Cancelled() bool { return j.cancelled.Load() }

// Emitted is the number of characters published so far.
func (j *AnimationJob) Emitted() int { return int(j.emitted.Load()) }

func (j *AnimationJob) FullText() string { return j.fullText }

// Done is closed when the playback goroutine has exited.
func (j *AnimationJob) Done() <-chan struct{} { return j.done }
