package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"motochefe-engagement/internal/models"
	"motochefe-engagement/internal/services"
)

const (
	DefaultMaxAttempts  = 3
	defaultBlockTimeout = 5 * time.Second
	promoteBatch        = 100
)

// promoteDue moves due retries from the retry set to the head of the ingest
// queue, earliest first, in one atomic step.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i = #due, 1, -1 do
	redis.call('LPUSH', KEYS[2], due[i])
	redis.call('ZREM', KEYS[1], due[i])
end
return #due
`)

type Persister interface {
	PersistBatch(ctx context.Context, job models.IngestJob) error
}

// Pool drains the ingest queue into the event store. A batch that keeps
// failing is parked on the dead-letter list after maxAttempts.
type Pool struct {
	redis        *redis.Client
	persister    Persister
	workerCount  int
	maxAttempts  int
	blockTimeout time.Duration
	backoff      func(attempt int) time.Duration
	now          func() time.Time
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewPool(redisClient *redis.Client, persister Persister, workerCount, maxAttempts int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Pool{
		redis:        redisClient,
		persister:    persister,
		workerCount:  workerCount,
		maxAttempts:  maxAttempts,
		blockTimeout: defaultBlockTimeout,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Printf("Started %d ingest workers", p.workerCount)
}

// Stop signals every worker and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			log.Printf("Ingest worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		if err := p.promote(ctx); err != nil {
			log.Printf("Ingest worker %d: retry promotion failed: %v", id, err)
		}

		result, err := p.redis.BLPop(ctx, p.blockTimeout, services.IngestQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Printf("Ingest worker %d: queue read failed: %v", id, err)
				p.pause(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.IngestJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Ingest worker %d: dropping unreadable job: %v", id, err)
			p.deadLetter(ctx, []byte(result[1]))
			continue
		}

		if err := p.persister.PersistBatch(ctx, job); err != nil {
			p.handleFailure(ctx, &job, err)
			continue
		}

		log.Printf("Ingest worker %d: stored %d events for user %s", id, len(job.Events), job.UserID)
	}
}

// handleFailure parks the job in the retry set, or on the dead-letter list
// once it has used up its attempts. Either way it stays in Redis, so a
// restart never loses an acknowledged batch.
func (p *Pool) handleFailure(ctx context.Context, job *models.IngestJob, err error) {
	job.Attempts++
	if job.Attempts >= p.maxAttempts {
		job.NotBefore = nil
		jobBytes, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			log.Printf("Ingest job %s: cannot re-encode after failure: %v", job.ID, marshalErr)
			return
		}
		log.Printf("Ingest job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, err)
		p.deadLetter(ctx, jobBytes)
		return
	}

	backoff := p.backoff(job.Attempts)
	notBefore := p.now().Add(backoff).UTC()
	job.NotBefore = &notBefore
	jobBytes, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		log.Printf("Ingest job %s: cannot re-encode after failure: %v", job.ID, marshalErr)
		return
	}

	log.Printf("Ingest job %s failed (attempt %d): %v, retrying in %s", job.ID, job.Attempts, err, backoff)
	retry := redis.Z{Score: float64(notBefore.UnixMilli()), Member: jobBytes}
	if err := p.redis.ZAdd(ctx, services.RetryQueue, retry).Err(); err != nil {
		log.Printf("Ingest job %s: cannot schedule retry, parking it: %v", job.ID, err)
		p.deadLetter(ctx, jobBytes)
	}
}

// promote requeues due retries at the head, so a retried batch stays ahead
// of newer ones.
func (p *Pool) promote(ctx context.Context) error {
	now := strconv.FormatInt(p.now().UnixMilli(), 10)
	keys := []string{services.RetryQueue, services.IngestQueue}
	return promoteDue.Run(ctx, p.redis, keys, now, promoteBatch).Err()
}

func (p *Pool) deadLetter(ctx context.Context, payload []byte) {
	if err := p.redis.RPush(ctx, services.DeadLetterQueue, payload).Err(); err != nil {
		log.Printf("failed to park job on %s: %v", services.DeadLetterQueue, err)
	}
}

func (p *Pool) pause(d time.Duration) {
	select {
	case <-p.stopChan:
	case <-time.After(d):
	}
}

// Depth counts batches by where they sit in Redis.
type Depth struct {
	Pending  int64
	Retrying int64
	Dead     int64
}

// QueueDepth reports pending, retrying and dead-lettered batch counts.
func (p *Pool) QueueDepth(ctx context.Context) (Depth, error) {
	var d Depth
	var err error
	if d.Pending, err = p.redis.LLen(ctx, services.IngestQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read queue depth: %w", err)
	}
	if d.Retrying, err = p.redis.ZCard(ctx, services.RetryQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read retry depth: %w", err)
	}
	if d.Dead, err = p.redis.LLen(ctx, services.DeadLetterQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read dead-letter depth: %w", err)
	}
	return d, nil
}
