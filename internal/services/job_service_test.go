package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelpixie/internal/domain"
	"modelpixie/internal/notify"
	"modelpixie/internal/providers/image"
	"modelpixie/internal/providers/mesh"
	"modelpixie/internal/providers/prompt"
	"modelpixie/internal/storage"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *memJobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	copied.Variations = append([]domain.ImageVariation(nil), job.Variations...)
	return &copied, nil
}

func (r *memJobRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memJobRepo) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, status) {
		return domain.ErrInvalidTransition
	}
	job.Status = status
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memJobRepo) SaveVariations(ctx context.Context, jobID string, variations []domain.ImageVariation, imageURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Variations = append([]domain.ImageVariation(nil), variations...)
	job.ImageURL = imageURL
	return nil
}

func (r *memJobRepo) SetProviderTask(ctx context.Context, jobID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ProviderTaskID = taskID
	return nil
}

func (r *memJobRepo) Complete(ctx context.Context, jobID, modelURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, domain.JobStatusCompleted) {
		return domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.ModelURL = modelURL
	job.CompletedAt = &now
	return nil
}

func (r *memJobRepo) IncrementIterations(ctx context.Context, jobID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if job.Iterations >= domain.MaxIterations {
		return job.Iterations, domain.ErrIterationLimit
	}
	job.Iterations++
	return job.Iterations, nil
}

func (r *memJobRepo) ResetIterations(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Iterations = 0
	return nil
}

func (r *memJobRepo) MarkStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	var n int64
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = domain.JobStatusError
			job.ErrorMessage = "job timed out"
			n++
		}
	}
	return n, nil
}

func (r *memJobRepo) ListProcessing(ctx context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing {
			out = append(out, *job)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memCreditRepo struct {
	mu       sync.Mutex
	balances map[string]int
	jobs     *memJobRepo
}

func newMemCreditRepo(jobs *memJobRepo) *memCreditRepo {
	return &memCreditRepo{balances: make(map[string]int), jobs: jobs}
}

func (r *memCreditRepo) Balance(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *memCreditRepo) DeductIfSufficient(ctx context.Context, userID string, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[userID] < amount {
		return 0, domain.ErrInsufficientCredits
	}
	r.balances[userID] -= amount
	return r.balances[userID], nil
}

func (r *memCreditRepo) Add(ctx context.Context, userID string, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] += amount
	return r.balances[userID], nil
}

func (r *memCreditRepo) SpendAndResetIterations(ctx context.Context, userID, jobID string) (int, error) {
	balance, err := r.DeductIfSufficient(ctx, userID, 1)
	if err != nil {
		return 0, err
	}
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil || job.UserID != userID {
		r.Add(ctx, userID, 1)
		return 0, domain.ErrNotFound
	}
	if err := r.jobs.ResetIterations(ctx, jobID); err != nil {
		r.Add(ctx, userID, 1)
		return 0, err
	}
	return balance, nil
}

var (
	_ domain.JobRepository    = (*memJobRepo)(nil)
	_ domain.CreditRepository = (*memCreditRepo)(nil)
)

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, req image.GenerateRequest) (image.Asset, error) {
	return image.Asset{}, errors.New("image provider: api key is invalid")
}

func (failingGenerator) Edit(ctx context.Context, imageURL, instructions string) (image.Asset, error) {
	return image.Asset{}, errors.New("image provider: api key is invalid")
}

// recordingGenerator captures every generation request it receives.
type recordingGenerator struct {
	mu   sync.Mutex
	reqs []image.GenerateRequest
}

func (g *recordingGenerator) Generate(ctx context.Context, req image.GenerateRequest) (image.Asset, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	return image.Asset{Data: []byte("png-bytes"), Format: "image/png"}, nil
}

func (g *recordingGenerator) Edit(ctx context.Context, imageURL, instructions string) (image.Asset, error) {
	return image.Asset{Data: []byte("png-bytes"), Format: "image/png"}, nil
}

// cappedIncrementRepo simulates losing the iteration-cap race to a concurrent
// refinement: the increment always reports the limit reached.
type cappedIncrementRepo struct {
	*memJobRepo
}

func (r *cappedIncrementRepo) IncrementIterations(ctx context.Context, jobID string) (int, error) {
	return domain.MaxIterations, domain.ErrIterationLimit
}

type fixture struct {
	svc     *JobService
	jobs    *memJobRepo
	credits *memCreditRepo
	meshes  *mesh.StaticProvider
	store   *storage.FileStore
}

func newFixture(t *testing.T, generator image.Generator) *fixture {
	t.Helper()
	jobs := newMemJobRepo()
	credits := newMemCreditRepo(jobs)
	store, err := storage.NewFileStore(t.TempDir(), "https://assets.test")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	meshes := mesh.NewStaticProvider()
	svc := NewJobService(
		jobs,
		credits,
		generator,
		prompt.NewStaticEnhancer(),
		meshes,
		store,
		notify.NewNotifier("", zerolog.Nop()),
		zerolog.Nop(),
	)
	return &fixture{svc: svc, jobs: jobs, credits: credits, meshes: meshes, store: store}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	f.credits.balances["user-1"] = 3

	job, err := f.svc.CreateJob(ctx, "user-1", "a ceramic dragon figurine")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if balance, _ := f.credits.Balance(ctx, "user-1"); balance != 2 {
		t.Fatalf("balance after create = %d, want 2", balance)
	}

	job, enhanced, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate images: %v", err)
	}
	if job.Status != domain.JobStatusImagesReady {
		t.Fatalf("status = %s, want images_ready", job.Status)
	}
	if len(job.Variations) != ExtraVariations+1 {
		t.Fatalf("variations = %d, want %d", len(job.Variations), ExtraVariations+1)
	}
	if !strings.Contains(enhanced, "suitable for 3D printing") {
		t.Fatalf("enhanced prompt missing suffix: %q", enhanced)
	}
	if sel := job.SelectedVariation(); sel == nil || sel.ID != 1 {
		t.Fatalf("default selection = %+v, want variation 1", sel)
	}

	job, err = f.svc.SelectVariation(ctx, job.ID, 2)
	if err != nil {
		t.Fatalf("select variation: %v", err)
	}
	if job.ImageURL != job.Variations[1].URL {
		t.Fatalf("image url = %s, want variation 2's url", job.ImageURL)
	}

	job, err = f.svc.GenerateModel(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("generate model: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}
	if job.ProviderTaskID == "" {
		t.Fatal("provider task id not recorded")
	}

	status, err := f.svc.CheckModelStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("first status check: %v", err)
	}
	if status.Status != domain.JobStatusProcessing {
		t.Fatalf("first poll status = %s, want processing", status.Status)
	}
	if status.Progress != 50 {
		t.Fatalf("first poll progress = %d, want provider-reported 50", status.Progress)
	}

	status, err = f.svc.CheckModelStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("second status check: %v", err)
	}
	if status.Status != domain.JobStatusCompleted {
		t.Fatalf("second poll status = %s, want completed", status.Status)
	}
	if !strings.HasPrefix(status.ModelURL, "https://assets.test/jobs/") || !strings.HasSuffix(status.ModelURL, "/model.glb") {
		t.Fatalf("model url %q not re-hosted on owned storage", status.ModelURL)
	}

	stored, err := f.jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted || stored.ModelURL != status.ModelURL || stored.CompletedAt == nil {
		t.Fatalf("completed job not persisted: %+v", stored)
	}
}

func TestCreateJobInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())

	if _, err := f.svc.CreateJob(ctx, "user-1", "a vase"); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatalf("job rows = %d, want 0", len(f.jobs.jobs))
	}
	if balance, _ := f.credits.Balance(ctx, "user-1"); balance != 0 {
		t.Fatalf("balance = %d, want unchanged 0", balance)
	}
}

func TestCreateJobRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t, image.NewStaticGenerator())
	f.credits.balances["user-1"] = 5
	if _, err := f.svc.CreateJob(context.Background(), "user-1", "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestGenerateImagesProviderFailureMarksError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingGenerator{})
	f.credits.balances["user-1"] = 1

	job, err := f.svc.CreateJob(ctx, "user-1", "a chess piece")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, _, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{}); err == nil {
		t.Fatal("expected generation failure")
	}
	stored, _ := f.jobs.GetByID(ctx, job.ID)
	if stored.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
}

func TestRefineImageIterationCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	f.credits.balances["user-1"] = 5

	job, err := f.svc.CreateJob(ctx, "user-1", "a toy robot")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, _, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{}); err != nil {
		t.Fatalf("generate images: %v", err)
	}

	for i := 0; i < domain.MaxIterations; i++ {
		job, err = f.svc.RefineImage(ctx, job.ID, "make it shinier")
		if err != nil {
			t.Fatalf("refinement %d: %v", i+1, err)
		}
		if job.Iterations != i+1 {
			t.Fatalf("iterations after refinement %d = %d", i+1, job.Iterations)
		}
		if job.Status != domain.JobStatusImagesReady {
			t.Fatalf("status after refinement = %s, want images_ready", job.Status)
		}
	}

	if _, err := f.svc.RefineImage(ctx, job.ID, "one more"); !errors.Is(err, domain.ErrIterationLimit) {
		t.Fatalf("err = %v, want ErrIterationLimit", err)
	}
}

func TestRefineImageLostIncrementRaceRestoresStatus(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobRepo()
	capped := &cappedIncrementRepo{memJobRepo: jobs}
	credits := newMemCreditRepo(jobs)
	store, err := storage.NewFileStore(t.TempDir(), "https://assets.test")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	svc := NewJobService(
		capped, credits,
		image.NewStaticGenerator(), prompt.NewStaticEnhancer(), mesh.NewStaticProvider(),
		store, notify.NewNotifier("", zerolog.Nop()), zerolog.Nop(),
	)
	credits.balances["user-1"] = 2

	job, err := svc.CreateJob(ctx, "user-1", "a toy robot")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, _, err := svc.GenerateImages(ctx, job.ID, GenerateOptions{}); err != nil {
		t.Fatalf("generate images: %v", err)
	}

	if _, err := svc.RefineImage(ctx, job.ID, "make it shinier"); !errors.Is(err, domain.ErrIterationLimit) {
		t.Fatalf("err = %v, want ErrIterationLimit", err)
	}
	stored, _ := jobs.GetByID(ctx, job.ID)
	if stored.Status != domain.JobStatusImagesReady {
		t.Fatalf("status = %s, want images_ready so a later attempt can proceed", stored.Status)
	}
}

func TestGenerateImagesForwardsOptions(t *testing.T) {
	ctx := context.Background()
	gen := &recordingGenerator{}
	f := newFixture(t, gen)
	f.credits.balances["user-1"] = 1

	job, err := f.svc.CreateJob(ctx, "user-1", "a mug")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	seed := 42
	_, enhanced, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{
		Prompt: "a tall espresso cup",
		Sketch: "https://app.test/sketch.png",
		Seed:   &seed,
	})
	if err != nil {
		t.Fatalf("generate images: %v", err)
	}
	// The static enhancer title-cases the subject before decorating it.
	if !strings.Contains(enhanced, "Espresso Cup") {
		t.Fatalf("enhanced = %q, want override prompt used", enhanced)
	}
	if len(gen.reqs) != ExtraVariations+1 {
		t.Fatalf("requests = %d, want %d", len(gen.reqs), ExtraVariations+1)
	}
	for i, req := range gen.reqs {
		if req.Sketch != "https://app.test/sketch.png" {
			t.Fatalf("request %d sketch = %q", i+1, req.Sketch)
		}
		if req.Seed == nil || *req.Seed != 42 {
			t.Fatalf("request %d seed = %v, want 42", i+1, req.Seed)
		}
		if !strings.HasPrefix(req.RequestID, job.ID) {
			t.Fatalf("request %d id = %q, want job-scoped", i+1, req.RequestID)
		}
	}
}

func TestUseRefinementCreditResetsIterations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	f.credits.balances["user-1"] = 3

	job, err := f.svc.CreateJob(ctx, "user-1", "a planter")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, _, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{}); err != nil {
		t.Fatalf("generate images: %v", err)
	}
	if _, err := f.svc.RefineImage(ctx, job.ID, "rounder edges"); err != nil {
		t.Fatalf("refine: %v", err)
	}

	balance, err := f.svc.UseRefinementCredit(ctx, "user-1", job.ID)
	if err != nil {
		t.Fatalf("use refinement credit: %v", err)
	}
	if balance != 1 {
		t.Fatalf("balance = %d, want 1", balance)
	}
	stored, _ := f.jobs.GetByID(ctx, job.ID)
	if stored.Iterations != 0 {
		t.Fatalf("iterations = %d, want reset to 0", stored.Iterations)
	}
}

func TestGenerateModelRejectsForeignImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	f.credits.balances["user-1"] = 2

	job, err := f.svc.CreateJob(ctx, "user-1", "a mug")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, _, err := f.svc.GenerateImages(ctx, job.ID, GenerateOptions{}); err != nil {
		t.Fatalf("generate images: %v", err)
	}
	if _, err := f.svc.GenerateModel(ctx, job.ID, "https://elsewhere.test/other.png"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCancelCompletedJobRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	job := &domain.Job{ID: "j-done", UserID: "user-1", Status: domain.JobStatusCompleted}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if _, err := f.svc.CancelJob(ctx, "j-done"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCheckModelStatusTerminalShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	job := &domain.Job{
		ID:       "j-done",
		UserID:   "user-1",
		Status:   domain.JobStatusCompleted,
		ModelURL: "https://assets.test/jobs/j-done/model.glb",
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	status, err := f.svc.CheckModelStatus(ctx, "j-done")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if status.Status != domain.JobStatusCompleted || status.Progress != 100 || status.ModelURL != job.ModelURL {
		t.Fatalf("terminal status = %+v", status)
	}
}

func TestApplyCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	job := &domain.Job{ID: "j-cb", UserID: "user-1", Status: domain.JobStatusProcessing}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if err := f.svc.ApplyCallback(ctx, "j-cb", "model_complete", "https://assets.test/jobs/j-cb/model.glb", "", ""); err != nil {
		t.Fatalf("model_complete callback: %v", err)
	}
	stored, _ := f.jobs.GetByID(ctx, "j-cb")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}

	if err := f.svc.ApplyCallback(ctx, "j-cb", "teleport", "", "", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown operation err = %v, want ErrInvalidInput", err)
	}
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, image.NewStaticGenerator())
	stuck := &domain.Job{ID: "j-stuck", UserID: "user-1", Status: domain.JobStatusProcessing}
	if err := f.jobs.Create(ctx, stuck); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	f.jobs.mu.Lock()
	f.jobs.jobs["j-stuck"].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	f.jobs.mu.Unlock()

	n, err := f.svc.SweepStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	stored, _ := f.jobs.GetByID(ctx, "j-stuck")
	if stored.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", stored.Status)
	}
}
