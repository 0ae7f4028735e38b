package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
	"github.com/tasknode/tasknode-be/shared/email"
	"github.com/tasknode/tasknode-be/shared/fargate"
	"github.com/tasknode/tasknode-be/shared/objectstore"
)

func newTestScheduler(store JobStore, objects ObjectStore, gateway LaunchGateway, notifier Notifier) *Scheduler {
	return &Scheduler{
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		objects:            objects,
		gateway:            gateway,
		notifier:           notifier,
		store:              store,
		dropBucket:         "drop-bucket",
		processedBucket:    "processed-bucket",
		processedRetention: 72 * time.Hour,
		dropRetention:      24 * time.Hour,
		stopChan:           make(chan struct{}),
	}
}

// fakeStore is an in-memory JobStore. Row locking is modeled with the locked
// set: a locked id behaves like a row held by a concurrent transaction.
type fakeStore struct {
	jobs            map[string]*domain.Job
	users           map[int64]*domain.User
	usersByExternal map[string]*domain.User
	files           []*domain.JobFile
	locked          map[string]bool

	uploadRemoved         []string
	responseRemoved       []string
	uploadRemovedByObject []string

	countProcessingErr error

	// listOverride, when set, replaces the computed PROCESSING snapshot so
	// tests can present a stale snapshot to the sweep.
	listOverride []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:            make(map[string]*domain.Job),
		users:           make(map[int64]*domain.User),
		usersByExternal: make(map[string]*domain.User),
		locked:          make(map[string]bool),
	}
}

func (f *fakeStore) addUser(user *domain.User) {
	f.users[user.ID] = user
	f.usersByExternal[user.ExternalID] = user
}

func (f *fakeStore) addJob(job *domain.Job) {
	copied := *job
	f.jobs[job.ID] = &copied
}

func (f *fakeStore) filesOfType(ft domain.FileType) []*domain.JobFile {
	var out []*domain.JobFile
	for _, file := range f.files {
		if file.FileType == ft {
			out = append(out, file)
		}
	}
	return out
}

func (f *fakeStore) CreateJob(_ context.Context, job *domain.Job) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeStore) CountProcessing(context.Context) (int, error) {
	if f.countProcessingErr != nil {
		return 0, f.countProcessingErr
	}
	count := 0
	for _, job := range f.jobs {
		if job.Status == domain.StatusProcessing {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListProcessingIDs(context.Context) ([]string, error) {
	if f.listOverride != nil {
		return f.listOverride, nil
	}
	var ids []string
	for id, job := range f.jobs {
		if job.Status == domain.StatusProcessing {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) LockJob(_ context.Context, jobID string) (*domain.Job, bool, error) {
	if f.locked[jobID] {
		return nil, false, nil
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, false, nil
	}
	copied := *job
	return &copied, true, nil
}

func (f *fakeStore) NextPending(context.Context) (*domain.Job, bool, error) {
	var next *domain.Job
	for _, job := range f.jobs {
		if job.Status != domain.StatusPending || f.locked[job.ID] {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) {
			next = job
		}
	}
	if next == nil {
		return nil, false, nil
	}
	copied := *next
	return &copied, true, nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, jobID, workerReference string) error {
	job, ok := f.jobs[jobID]
	if !ok || job.Status != domain.StatusPending {
		return fmt.Errorf("job %s is not pending", jobID)
	}
	job.Status = domain.StatusProcessing
	job.WorkerReference.Valid = true
	job.WorkerReference.String = workerReference
	return nil
}

func (f *fakeStore) MarkFailedLaunch(_ context.Context, jobID string) error {
	job, ok := f.jobs[jobID]
	if !ok || job.Status != domain.StatusPending {
		return fmt.Errorf("job %s is not pending", jobID)
	}
	job.Status = domain.StatusFailed
	return nil
}

func (f *fakeStore) MarkTerminal(_ context.Context, jobID string, status domain.Status, runtime int64) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != domain.StatusProcessing {
		// Already finalized by a racing sweep; mirrors the 0-row update.
		return nil
	}
	job.Status = status
	job.Runtime.Valid = true
	job.Runtime.Int64 = runtime
	return nil
}

func (f *fakeStore) SetUploadRemoved(_ context.Context, jobID string) error {
	f.uploadRemoved = append(f.uploadRemoved, jobID)
	if job, ok := f.jobs[jobID]; ok {
		job.UploadRemoved = true
	}
	return nil
}

func (f *fakeStore) SetUploadRemovedByObject(_ context.Context, bucket, key string) error {
	f.uploadRemovedByObject = append(f.uploadRemovedByObject, bucket+"/"+key)
	return nil
}

func (f *fakeStore) SetResponseRemoved(_ context.Context, jobID string) error {
	f.responseRemoved = append(f.responseRemoved, jobID)
	if job, ok := f.jobs[jobID]; ok {
		job.ResponseRemoved = true
	}
	return nil
}

func (f *fakeStore) CreateJobFile(_ context.Context, file *domain.JobFile) error {
	copied := *file
	f.files = append(f.files, &copied)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID int64) (*domain.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByExternalID(_ context.Context, externalID string) (*domain.User, error) {
	user, ok := f.usersByExternal[externalID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

type fakeObject struct {
	data         []byte
	lastModified time.Time
	metadata     map[string]string
}

// fakeObjects is an in-memory ObjectStore keyed by bucket and object key.
type fakeObjects struct {
	objects map[string]map[string]*fakeObject
	deleted []string

	headErr     error
	signGetErr  error
	signPutErr  error
	emptyPutURL bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]map[string]*fakeObject)}
}

func (f *fakeObjects) put(bucket, key string, obj *fakeObject) {
	if f.objects[bucket] == nil {
		f.objects[bucket] = make(map[string]*fakeObject)
	}
	f.objects[bucket][key] = obj
}

func (f *fakeObjects) has(bucket, key string) bool {
	_, ok := f.objects[bucket][key]
	return ok
}

func (f *fakeObjects) Head(_ context.Context, bucket, key string) (*objectstore.ObjectInfo, bool, error) {
	if f.headErr != nil {
		return nil, false, f.headErr
	}
	obj, ok := f.objects[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return &objectstore.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
		Metadata:     obj.metadata,
	}, true, nil
}

func (f *fakeObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, ok := f.objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (f *fakeObjects) Delete(_ context.Context, bucket, key string) error {
	delete(f.objects[bucket], key)
	f.deleted = append(f.deleted, bucket+"/"+key)
	return nil
}

func (f *fakeObjects) List(_ context.Context, bucket, prefix string) ([]*objectstore.ObjectInfo, error) {
	var keys []string
	for key := range f.objects[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var infos []*objectstore.ObjectInfo
	for _, key := range keys {
		obj := f.objects[bucket][key]
		infos = append(infos, &objectstore.ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
			Metadata:     obj.metadata,
		})
	}
	return infos, nil
}

func (f *fakeObjects) SignGetURL(bucket, key string, _ time.Duration, _ string) (string, error) {
	if f.signGetErr != nil {
		return "", f.signGetErr
	}
	return "https://signed.test/get/" + bucket + "/" + key, nil
}

func (f *fakeObjects) SignPutURL(bucket, key, _ string, _ time.Duration, _ map[string]string) (string, error) {
	if f.signPutErr != nil {
		return "", f.signPutErr
	}
	if f.emptyPutURL {
		return "", nil
	}
	return "https://signed.test/put/" + bucket + "/" + key, nil
}

// fakeGateway records launches and serves canned task statuses.
type fakeGateway struct {
	launchHandle string
	launchErr    error
	launches     []*fargate.LaunchInput

	statuses map[string]*fargate.TaskStatus
	queryErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		launchHandle: "arn:aws:ecs:task/test-1",
		statuses:     make(map[string]*fargate.TaskStatus),
	}
}

func (f *fakeGateway) Launch(_ context.Context, input *fargate.LaunchInput) (string, error) {
	f.launches = append(f.launches, input)
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return f.launchHandle, nil
}

func (f *fakeGateway) Query(_ context.Context, workerReference string) (*fargate.TaskStatus, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	status, ok := f.statuses[workerReference]
	if !ok {
		return &fargate.TaskStatus{State: fargate.StateUnknown}, nil
	}
	return status, nil
}

type notification struct {
	to    string
	jobID string
	files []email.GeneratedFile
	links []email.Link
}

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	completed []notification
	failed    []notification
	sendErr   error
}

func (f *fakeNotifier) JobCompleted(_ context.Context, to, jobID string, files []email.GeneratedFile, links []email.Link) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.completed = append(f.completed, notification{to: to, jobID: jobID, files: files, links: links})
	return nil
}

func (f *fakeNotifier) JobFailed(_ context.Context, to, jobID string, links []email.Link) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.failed = append(f.failed, notification{to: to, jobID: jobID, links: links})
	return nil
}
