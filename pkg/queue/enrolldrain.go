package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/store"
)

// enrollQueueKey is the Redis LIST key used as the write-through
// enrollment staging buffer.
const enrollQueueKey = "eyed:enroll:pending"

// EnrollmentRecord is one pending bulk-enrollment record, staged in
// Redis and later drained to the durable store.
type EnrollmentRecord struct {
	TemplateID   uuid.UUID `json:"template_id"`
	IdentityID   uuid.UUID `json:"identity_id"`
	IdentityName string    `json:"identity_name"`
	EyeSide      string    `json:"eye_side"`
	IrisCodesB64 string    `json:"iris_codes_b64"`
	MaskCodesB64 string    `json:"mask_codes_b64"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	NScales      int       `json:"n_scales"`
	QualityScore float64   `json:"quality_score"`
	DeviceID     string    `json:"device_id"`
	// IrisPopcount/MaskPopcount carry the non-secret popcount sidecar
	// for HE-mode templates; empty for plaintext templates.
	IrisPopcount []int `json:"iris_popcount,omitempty"`
	MaskPopcount []int `json:"mask_popcount,omitempty"`
}

// EnrollmentQueue is a thin wrapper around the Redis LIST used to
// stage bulk-enrollment records before they are batch-persisted.
type EnrollmentQueue struct {
	client *redis.Client
}

// OpenEnrollmentQueue connects to the Redis instance at url.
func OpenEnrollmentQueue(ctx context.Context, url string) (*EnrollmentQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "invalid redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "redis not reachable")
	}
	return &EnrollmentQueue{client: client}, nil
}

// Close closes the underlying Redis connection.
func (q *EnrollmentQueue) Close() error {
	return q.client.Close()
}

// Push appends a record to the pending queue.
func (q *EnrollmentQueue) Push(ctx context.Context, rec EnrollmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.KindDecodeError, err, "failed to encode enrollment record")
	}
	if err := q.client.RPush(ctx, enrollQueueKey, payload).Err(); err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, err, "failed to push enrollment record")
	}
	return nil
}

// Pop atomically removes up to batchSize records from the head of the
// queue via LRANGE+LTRIM inside a MULTI/EXEC pipeline. Malformed entries are
// skipped rather than failing the whole batch.
func (q *EnrollmentQueue) Pop(ctx context.Context, batchSize int64) ([]EnrollmentRecord, error) {
	pipe := q.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, enrollQueueKey, 0, batchSize-1)
	pipe.LTrim(ctx, enrollQueueKey, batchSize, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "failed to pop enrollment records")
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "failed to read popped enrollment records")
	}

	records := make([]EnrollmentRecord, 0, len(raw))
	for _, item := range raw {
		var rec EnrollmentRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Len reports the number of pending records.
func (q *EnrollmentQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, enrollQueueKey).Result()
	if err != nil {
		return 0, errs.Wrap(errs.KindStoreUnavailable, err, "failed to read queue length")
	}
	return n, nil
}

// EnrollmentStore is the subset of *store.Store that
// EnrollmentDrainWriter depends on, narrowed to an interface so tests
// can supply a mock.
type EnrollmentStore interface {
	EnsureIdentities(ctx context.Context, ids []uuid.UUID, names []string) error
	PersistTemplates(ctx context.Context, templates []store.NewTemplate) error
}

// EnrollmentPopper is the subset of *EnrollmentQueue that
// EnrollmentDrainWriter depends on, narrowed to an interface so tests
// can supply a mock instead of a live Redis connection.
type EnrollmentPopper interface {
	Pop(ctx context.Context, batchSize int64) ([]EnrollmentRecord, error)
}

// EnrollmentDrainWriter periodically drains an EnrollmentPopper into
// the durable store, deduplicating identities within each batch before
// upserting them.
type EnrollmentDrainWriter struct {
	queue     EnrollmentPopper
	store     EnrollmentStore
	log       *logrus.Entry
	batchSize int
	interval  time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewEnrollmentDrainWriter constructs a drain writer that pops up to
// batchSize records every interval.
func NewEnrollmentDrainWriter(q EnrollmentPopper, s EnrollmentStore, log *logrus.Entry, batchSize int, interval time.Duration) *EnrollmentDrainWriter {
	return &EnrollmentDrainWriter{
		queue:     q,
		store:     s,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start launches the background drain loop.
func (w *EnrollmentDrainWriter) Start() {
	w.wg.Add(1)
	go w.drainLoop()
}

// Stop signals the drain loop to exit, then performs one final flush
// to catch anything pushed after the last poll.
func (w *EnrollmentDrainWriter) Stop() {
	close(w.done)
	w.wg.Wait()
	w.flush(context.Background())
}

func (w *EnrollmentDrainWriter) drainLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush(context.Background())
		case <-w.done:
			return
		}
	}
}

func (w *EnrollmentDrainWriter) flush(ctx context.Context) {
	records, err := w.queue.Pop(ctx, int64(w.batchSize))
	if err != nil {
		w.log.WithError(err).Error("enrollment drain error")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := w.persist(ctx, records); err != nil {
		w.log.WithError(err).WithField("count", len(records)).Error("failed to batch-insert enrollment records")
		return
	}
	w.log.WithField("count", len(records)).Info("batch-inserted enrollment records")
}

func (w *EnrollmentDrainWriter) persist(ctx context.Context, records []EnrollmentRecord) error {
	seen := make(map[uuid.UUID]string)
	order := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.IdentityID]; !ok {
			order = append(order, r.IdentityID)
		}
		seen[r.IdentityID] = r.IdentityName
	}
	ids := make([]uuid.UUID, len(order))
	names := make([]string, len(order))
	for i, id := range order {
		ids[i] = id
		names[i] = seen[id]
	}
	if err := w.store.EnsureIdentities(ctx, ids, names); err != nil {
		return err
	}

	templates := make([]store.NewTemplate, 0, len(records))
	for _, r := range records {
		irisCodes, err := base64.StdEncoding.DecodeString(r.IrisCodesB64)
		if err != nil {
			w.log.WithError(err).Warn("skipping enrollment record with malformed iris codes")
			continue
		}
		maskCodes, err := base64.StdEncoding.DecodeString(r.MaskCodesB64)
		if err != nil {
			w.log.WithError(err).Warn("skipping enrollment record with malformed mask codes")
			continue
		}
		templates = append(templates, store.NewTemplate{
			TemplateID:   r.TemplateID,
			IdentityID:   r.IdentityID,
			EyeSide:      r.EyeSide,
			IrisCodes:    irisCodes,
			MaskCodes:    maskCodes,
			Width:        r.Width,
			Height:       r.Height,
			NScales:      r.NScales,
			QualityScore: r.QualityScore,
			DeviceID:     r.DeviceID,
			IrisPopcount: intsToInt32s(r.IrisPopcount),
			MaskPopcount: intsToInt32s(r.MaskPopcount),
		})
	}
	return w.store.PersistTemplates(ctx, templates)
}

func intsToInt32s(in []int) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
