package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
)

// fakeRepo is an in-memory JobRepository with the production compare-and-set
// semantics.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	createErr     error
	transitionErr error
	markErr       error
	listErr       error
}

func newFakeRepo(jobs ...*model.Job) *fakeRepo {
	r := &fakeRepo{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		cp := *j
		r.jobs[j.ID] = &cp
	}
	return r
}

func (r *fakeRepo) Create(_ context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.jobs[job.ID]; ok {
		return apperrors.Conflictf("job %q already exists", job.ID)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %q not found", id)
	}
	cp := *job
	return &cp, nil
}

func (r *fakeRepo) Transition(_ context.Context, id string, from, to model.JobStatus, completion *model.CompletionFields) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitionErr != nil {
		return nil, r.transitionErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %q not found", id)
	}
	if job.Status != from {
		return nil, fmt.Errorf("job %q is %s, expected %s: %w", id, job.Status, from, model.ErrPreconditionFailed)
	}
	job.Status = to
	if to == model.JobStatusCompleted && completion != nil {
		ct := completion.CompleteTime
		rk := completion.ResultKey
		lk := completion.LogKey
		job.CompleteTime = &ct
		job.ResultKey = &rk
		job.LogKey = &lk
	}
	cp := *job
	return &cp, nil
}

func (r *fakeRepo) MarkArchived(_ context.Context, id, archiveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.NotFoundf("job %q not found", id)
	}
	if job.Status != model.JobStatusCompleted || job.ResultKey == nil {
		return fmt.Errorf("job %q has no hot result key: %w", id, model.ErrPreconditionFailed)
	}
	job.ArchiveID = &archiveID
	job.ResultKey = nil
	return nil
}

func (r *fakeRepo) ListArchivedByUser(_ context.Context, userID string) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.Job
	for _, job := range r.jobs {
		if job.UserID == userID && job.Archived() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID string) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.Job
	for _, job := range r.jobs {
		if job.UserID == userID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeQueue is an in-memory Queue. Receive pops without a real lease; Delete
// records acknowledged receipts.
type fakeQueue struct {
	mu       sync.Mutex
	pending  map[string][]*core.Message
	deleted  map[string][]string
	sent     map[string][]json.RawMessage
	seq      int
	sendErr  error
	recvErr  error
	delErr   error
	sendHook func(queue string)
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		pending: make(map[string][]*core.Message),
		deleted: make(map[string][]string),
		sent:    make(map[string][]json.RawMessage),
	}
}

func (q *fakeQueue) Send(_ context.Context, queue string, body any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	q.seq++
	q.sent[queue] = append(q.sent[queue], raw)
	q.pending[queue] = append(q.pending[queue], &core.Message{
		ID:      fmt.Sprintf("m-%d", q.seq),
		Body:    raw,
		Receipt: fmt.Sprintf("r-%d", q.seq),
	})
	if q.sendHook != nil {
		q.sendHook(queue)
	}
	return nil
}

func (q *fakeQueue) Receive(_ context.Context, queue string, _, _ time.Duration) (*core.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recvErr != nil {
		return nil, q.recvErr
	}
	msgs := q.pending[queue]
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	q.pending[queue] = msgs[1:]
	return msg, nil
}

func (q *fakeQueue) Delete(_ context.Context, queue, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.delErr != nil {
		return q.delErr
	}
	q.deleted[queue] = append(q.deleted[queue], receipt)
	return nil
}

// push enqueues a raw payload directly, bypassing Send bookkeeping.
func (q *fakeQueue) push(queue string, body any) *core.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		raw, _ = json.Marshal(b)
	}
	q.seq++
	msg := &core.Message{
		ID:      fmt.Sprintf("m-%d", q.seq),
		Body:    raw,
		Receipt: fmt.Sprintf("r-%d", q.seq),
	}
	q.pending[queue] = append(q.pending[queue], msg)
	return msg
}

func (q *fakeQueue) deletedCount(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted[queue])
}

func (q *fakeQueue) sentBodies(queue string) []json.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]json.RawMessage(nil), q.sent[queue]...)
}

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (s *fakeStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	body, ok := s.objects[objKey(bucket, key)]
	if !ok {
		return nil, apperrors.NotFoundf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *fakeStore) Put(_ context.Context, bucket, key string, body io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[objKey(bucket, key)] = raw
	return nil
}

func (s *fakeStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, objKey(bucket, key))
	return nil
}

func (s *fakeStore) Presign(bucket, key string, _ time.Duration) (string, error) {
	return "signed:/" + bucket + "/" + key, nil
}

func (s *fakeStore) has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objKey(bucket, key)]
	return ok
}

func (s *fakeStore) put(bucket, key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objKey(bucket, key)] = body
}

// fakeVault records uploads and retrieval initiations. The first
// expeditedRejects expedited initiations fail with a Capacity error.
type initiation struct {
	archiveID string
	tier      model.RetrievalTier
}

type fakeVault struct {
	mu               sync.Mutex
	uploads          int
	initiations      []initiation
	expeditedRejects int
	uploadErr        error
	missing          map[string]bool
}

func newFakeVault() *fakeVault {
	return &fakeVault{missing: make(map[string]bool)}
}

func (v *fakeVault) Upload(_ context.Context, body io.Reader) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.uploadErr != nil {
		return "", v.uploadErr
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	v.uploads++
	return fmt.Sprintf("arch-%d", v.uploads), nil
}

func (v *fakeVault) InitiateRetrieval(_ context.Context, archiveID string, tier model.RetrievalTier) (*model.RetrievalJob, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.missing[archiveID] {
		return nil, apperrors.NotFoundf("archive %q not found", archiveID)
	}
	if tier == model.TierExpedited && v.expeditedRejects > 0 {
		v.expeditedRejects--
		return nil, apperrors.Capacity("expedited retrieval capacity exceeded")
	}
	v.initiations = append(v.initiations, initiation{archiveID: archiveID, tier: tier})
	return &model.RetrievalJob{
		ID:        fmt.Sprintf("ret-%d", len(v.initiations)),
		ArchiveID: archiveID,
		Tier:      tier,
	}, nil
}

func (v *fakeVault) tiers() []model.RetrievalTier {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.RetrievalTier, len(v.initiations))
	for i, in := range v.initiations {
		out[i] = in.tier
	}
	return out
}

// fakeProfiles serves profiles from a map.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	err      error
	lookups  int
}

func newFakeProfiles(profiles map[string]*model.Profile) *fakeProfiles {
	if profiles == nil {
		profiles = make(map[string]*model.Profile)
	}
	return &fakeProfiles{profiles: profiles}
}

func (p *fakeProfiles) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	if p.err != nil {
		return nil, p.err
	}
	profile, ok := p.profiles[userID]
	if !ok {
		return nil, apperrors.NotFoundf("profile %q not found", userID)
	}
	return profile, nil
}

// fakePublisher records completion notices.
type fakePublisher struct {
	mu      sync.Mutex
	notices []model.CompletionNotice
	err     error
}

func (p *fakePublisher) PublishCompletion(_ context.Context, notice model.CompletionNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notices = append(p.notices, notice)
	return nil
}

// fakeDriver records dispatched tasks.
type fakeDriver struct {
	mu    sync.Mutex
	tasks []model.ExecutionTask
	err   error
}

func (d *fakeDriver) Start(_ context.Context, task model.ExecutionTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func freeProfile(userID string) *model.Profile {
	return &model.Profile{Identity: userID, Email: userID + "@example.com", Tier: model.TierFree}
}

func premiumProfile(userID string) *model.Profile {
	return &model.Profile{Identity: userID, Email: userID + "@example.com", Tier: model.TierPremium}
}
