package translate

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"babble.town/caption"
	"babble.town/lang"
)

// queue depth per worker; a dispatch that would overflow it is dropped
// rather than stalling the recognition path.
const workerQueueSize = 64

// Pool maps language codes to live translation workers. At most one worker
// exists per code; the registry is the only state touched by more than one
// goroutine, so every mutation goes through the mutex.
type Pool struct {
	translator Translator
	publisher  caption.Publisher
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool
}

func NewPool(
	ctx context.Context,
	translator Translator,
	publisher caption.Publisher,
	logger *log.Logger,
) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		translator: translator,
		publisher:  publisher,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(map[string]*Worker),
	}
}

// Ensure starts a worker for the given language code if one is not already
// running. Unknown codes and the default language are rejected here, never
// escalated to the caller. Concurrent calls for the same unseen code create
// exactly one worker.
func (p *Pool) Ensure(code string) {
	if code == lang.DefaultCode {
		p.logger.Debug("no translator for default language", "code", code)
		return
	}

	language, err := lang.Lookup(code)
	if err != nil {
		p.logger.Warn("unsupported language code", "code", code)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, exists := p.workers[code]; exists {
		return
	}

	worker := &Worker{
		Language:     language,
		systemPrompt: SystemPrompt(language),
		jobs:         make(chan caption.Segment, workerQueueSize),
	}
	p.workers[code] = worker

	p.wg.Add(1)
	go p.run(worker)

	p.logger.Info("added translator", "code", code, "name", language.Name)
}

// Dispatch hands a final segment to every worker active right now. It never
// waits on translation: workers created later do not receive this segment,
// and a worker whose queue is full loses it (logged).
func (p *Pool) Dispatch(segment caption.Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	for code, worker := range p.workers {
		select {
		case worker.jobs <- segment:
		default:
			p.logger.Warn("translation queue full, dropping segment",
				"code", code,
				"segment", segment.ID,
			)
		}
	}
}

// Active returns the codes with a live worker, in no particular order.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	codes := make([]string, 0, len(p.workers))
	for code := range p.workers {
		codes = append(codes, code)
	}
	return codes
}

// Close stops every worker and drops whatever jobs are still queued.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Worker is one language's translator: a private ordered queue consumed by a
// single goroutine, so no two translations for the same language are ever in
// flight at once.
type Worker struct {
	Language     lang.Language
	systemPrompt string
	jobs         chan caption.Segment
}

func (p *Pool) run(worker *Worker) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case segment := <-worker.jobs:
			p.translateOne(worker, segment)
		}
	}
}

func (p *Pool) translateOne(worker *Worker, segment caption.Segment) {
	translated, err := p.translator.Translate(
		p.ctx,
		worker.systemPrompt,
		segment.Text,
	)
	if err != nil {
		p.logger.Error("translation failed",
			"code", worker.Language.Code,
			"segment", segment.ID,
			"error", err,
		)
		return
	}

	result := caption.Segment{
		ID:          caption.NewSegmentID(),
		Text:        translated,
		Language:    worker.Language.Code,
		TrackID:     segment.TrackID,
		Participant: segment.Participant,
		IsFinal:     true,
		StartOffset: segment.StartOffset,
		EndOffset:   segment.EndOffset,
	}

	err = p.publisher.Publish(p.ctx, caption.Caption{
		Participant: segment.Participant,
		TrackID:     segment.TrackID,
		Segments:    []caption.Segment{result},
	})
	if err != nil {
		p.logger.Error("publish translation",
			"code", worker.Language.Code,
			"error", err,
		)
		return
	}

	p.logger.Info("xlat",
		"from", segment.Text,
		"to", translated,
		"code", worker.Language.Code,
	)
}
