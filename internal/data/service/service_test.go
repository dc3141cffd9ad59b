package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/adapter"
	"github.com/grovetools/appshell/internal/data/docstore"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	products map[string][]string
}

func (l *fakeLister) ListProducts(dir string) ([]string, error) {
	p, ok := l.products[dir]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", dir, fs.ErrNotExist)
	}
	return p, nil
}

// fakeAdapter builds a database with one collection. When block is set,
// Load and Save wait for a value on it; that value is the returned error.
type fakeAdapter struct {
	block   chan error
	loadErr error
	saveErr error

	mu        sync.Mutex
	saves     int
	loadCalls int
	saveCalls int
	savedDocs int
}

func (a *fakeAdapter) calls() (loads, saves int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadCalls, a.saveCalls
}

func (a *fakeAdapter) Load(ctx context.Context, target adapter.Target) (*docstore.Database, error) {
	a.mu.Lock()
	a.loadCalls++
	a.mu.Unlock()
	if a.block != nil {
		if err := <-a.block; err != nil {
			return nil, err
		}
	}
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	db := docstore.New(adapter.DatabaseName)
	c, err := db.AddCollection("product.things", docstore.CollectionOptions{Unique: []string{"name"}})
	if err != nil {
		return nil, err
	}
	if _, err := c.Insert(map[string]interface{}{"name": target.Product}); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *fakeAdapter) Save(ctx context.Context, target adapter.Target, db *docstore.Database) error {
	a.mu.Lock()
	a.saveCalls++
	if c := db.Collection("product.things"); c != nil {
		a.savedDocs = c.Count()
	}
	a.mu.Unlock()
	if a.block != nil {
		if err := <-a.block; err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.saves++
	a.mu.Unlock()
	return a.saveErr
}

type recorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (r *recorder) handle(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count(alertType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == alertType {
			n++
		}
	}
	return n
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.Type != protocol.AlertDBStatusText {
			continue
		}
		var p Message
		_ = m.DecodePayload(&p)
		out = append(out, p.Message)
	}
	return out
}

func newTestService(t *testing.T, a *fakeAdapter) (*Service, *recorder) {
	t.Helper()
	bus := alert.NewBus(nil)
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	s, err := New(Config{
		Adapter: a,
		Lister:  &fakeLister{products: map[string][]string{"/proj": {"alpha", "beta"}}},
		Bus:     bus,
	})
	require.NoError(t, err)
	return s, rec
}

func strPtr(s string) *string { return &s }

func TestSelectDirectory(t *testing.T) {
	s, rec := newTestService(t, &fakeAdapter{})

	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	st := s.Status()
	require.NotNil(t, st.ProjectDirectory)
	assert.Equal(t, "/proj", *st.ProjectDirectory)
	assert.Equal(t, []string{"alpha", "beta"}, st.AvailableProducts)
	assert.Nil(t, st.SelectedProduct)
	assert.Equal(t, 1, rec.count(protocol.AlertDBStatus))
}

func TestSelectDirectoryInvalid(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})

	err := s.SelectDirectory(context.Background(), "/nowhere")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidDirectory))

	err = s.SelectDirectory(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidDirectory))
	assert.Nil(t, s.Status().ProjectDirectory)
}

func TestSelectDirectoryWhileProductOpen(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	err := s.SelectDirectory(context.Background(), "/proj")
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeInvalidDirectory, appErr.Code)
	assert.Equal(t, msgSelectActive, appErr.Message)
}

func TestLoadSuccess(t *testing.T) {
	s, rec := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	st := s.Status()
	require.NotNil(t, st.SelectedProduct)
	assert.Equal(t, "alpha", *st.SelectedProduct)
	assert.False(t, st.IsLoading)
	assert.NoError(t, s.Available(context.Background()))
	assert.NotNil(t, s.Collection("product.things"))
	assert.Equal(t, []string{StatusLoadStart, StatusLoadCleanup}, rec.texts())
}

func TestLoadInvalidProductLeavesStateUnchanged(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	err := s.Load(context.Background(), strPtr("missing"), false)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeLoadDatabase, appErr.Code)
	assert.Equal(t, msgLoadInvalid, appErr.Message)
	assert.Nil(t, s.Status().SelectedProduct)

	err = s.Load(context.Background(), nil, false)
	assert.True(t, errors.Is(err, errors.ErrCodeLoadDatabase))
}

func TestLoadNilProductIsNoopWhenSelected(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("beta"), false))
	before := s.Collection("product.things")

	require.NoError(t, s.Load(context.Background(), nil, false))
	assert.Same(t, before, s.Collection("product.things"))
	assert.Equal(t, "beta", *s.Status().SelectedProduct)
}

func TestLoadRefusedWhenModified(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))
	s.MarkModified()

	err := s.Load(context.Background(), strPtr("beta"), false)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, msgLoadModified, appErr.Message)

	require.NoError(t, s.Load(context.Background(), strPtr("beta"), true))
	assert.False(t, s.IsModified())
}

func TestConcurrentLoadRejected(t *testing.T) {
	a := &fakeAdapter{block: make(chan error)}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), strPtr("alpha"), false) }()
	require.Eventually(t, func() bool { return s.Status().IsLoading }, time.Second, 5*time.Millisecond)

	before := s.Status()
	err := s.Load(context.Background(), strPtr("beta"), false)
	assert.True(t, errors.Is(err, errors.ErrCodeConcurrentDatabase))
	err = s.Save(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeConcurrentDatabase))

	after := s.Status()
	assert.Equal(t, before.SelectedProduct, after.SelectedProduct)
	assert.True(t, after.IsLoading)

	a.block <- nil
	require.NoError(t, <-done)
}

func TestFailedLoadRollsBack(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))
	before := s.Collection("product.things")

	a.loadErr = fmt.Errorf("disk gone")
	err := s.Load(context.Background(), strPtr("beta"), false)
	require.Error(t, err)

	st := s.Status()
	assert.False(t, st.IsLoading)
	assert.Equal(t, "alpha", *st.SelectedProduct)
	assert.Same(t, before, s.Collection("product.things"))
	// The restored store stays available.
	assert.NoError(t, s.Available(context.Background()))
}

func TestQueuedOperationWaitsForLoad(t *testing.T) {
	a := &fakeAdapter{block: make(chan error)}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	waited := make(chan error, 1)
	go func() { waited <- s.Available(context.Background()) }()

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), strPtr("alpha"), false) }()

	select {
	case <-waited:
		t.Fatal("operation ran before the load finished")
	case <-time.After(50 * time.Millisecond):
	}

	a.block <- nil
	require.NoError(t, <-done)
	assert.NoError(t, <-waited)
}

func TestQueuedOperationRejectedWhenLoadFails(t *testing.T) {
	a := &fakeAdapter{block: make(chan error)}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), strPtr("alpha"), false) }()
	require.Eventually(t, func() bool { return s.Status().IsLoading }, time.Second, 5*time.Millisecond)

	waited := make(chan error, 1)
	go func() { waited <- s.Available(context.Background()) }()

	loadErr := fmt.Errorf("bad file")
	a.block <- loadErr
	assert.Equal(t, loadErr, <-done)

	select {
	case err := <-waited:
		assert.Equal(t, loadErr, err)
	case <-time.After(time.Second):
		t.Fatal("queued operation never settled")
	}
	assert.Nil(t, s.Status().SelectedProduct)
}

func TestSaveUnmodifiedWarns(t *testing.T) {
	a := &fakeAdapter{}
	s, rec := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, 1, a.saves)
	assert.Contains(t, rec.texts(), msgSaveUnmodified)
	assert.False(t, s.Status().IsSaving)
}

func TestSaveClearsModified(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))
	s.MarkModified()

	require.NoError(t, s.Save(context.Background()))
	assert.False(t, s.IsModified())
}

func TestFailedSaveKeepsStoreAvailable(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))
	s.MarkModified()

	a.saveErr = fmt.Errorf("read-only")
	err := s.Save(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeSaveDatabase))
	assert.True(t, s.IsModified())
	assert.False(t, s.Status().IsSaving)
	assert.NoError(t, s.Available(context.Background()))
}

func TestSaveWithoutProduct(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	err := s.Save(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeSaveDatabase))
}

func TestUnloadResetsState(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))
	s.MarkModified()

	s.Unload()

	st := s.Status()
	assert.Nil(t, st.SelectedProduct)
	assert.Equal(t, "/proj", *st.ProjectDirectory)
	assert.False(t, s.IsModified())
	assert.Nil(t, s.Collection("product.things"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Available(ctx), context.DeadlineExceeded)

	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
}

func TestUnloadDuringLoadDiscardsIt(t *testing.T) {
	a := &fakeAdapter{block: make(chan error)}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	pending := s.gate.Current()
	waited := make(chan error, 1)
	go func() { waited <- pending.Wait(context.Background()) }()

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), strPtr("alpha"), false) }()
	require.Eventually(t, func() bool { return s.Status().IsLoading }, time.Second, 5*time.Millisecond)

	s.Unload()
	a.block <- nil

	err := <-done
	assert.True(t, errors.Is(err, errors.ErrCodeLoadDatabase))
	assert.True(t, errors.Is(<-waited, errors.ErrCodeLoadDatabase))
	assert.Nil(t, s.Collection("product.things"))
	assert.Nil(t, s.Status().SelectedProduct)
}

func TestUnloadBeforeFirstLoadKeepsWaiters(t *testing.T) {
	s, _ := newTestService(t, &fakeAdapter{})
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))

	waited := make(chan error, 1)
	go func() { waited <- s.Available(context.Background()) }()

	s.Unload()
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter stranded by unload")
	}
}

func TestWatcherRefreshesProducts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpha"), 0755))

	bus := alert.NewBus(nil)
	s, err := New(Config{Adapter: &fakeAdapter{}, Bus: bus, Watch: true, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SelectDirectory(context.Background(), root))
	assert.Equal(t, []string{"alpha"}, s.Status().AvailableProducts)

	require.NoError(t, os.Mkdir(filepath.Join(root, "beta"), 0755))
	assert.Eventually(t, func() bool {
		return len(s.Status().AvailableProducts) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaveWaitsForAdmittedOperations(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	release, err := s.Acquire(context.Background())
	require.NoError(t, err)

	a.block = make(chan error)
	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	require.Eventually(t, func() bool { return s.Status().IsSaving }, time.Second, 5*time.Millisecond)

	_, err = s.Collection("product.things").Insert(map[string]interface{}{"name": "late"})
	require.NoError(t, err)
	s.MarkModified()
	_, saves := a.calls()
	assert.Equal(t, 0, saves, "save wrote while an operation held the store")
	release()

	a.block <- nil
	require.NoError(t, <-done)

	a.mu.Lock()
	assert.Equal(t, 2, a.savedDocs)
	a.mu.Unlock()
	assert.False(t, s.IsModified())
}

func TestOperationsWaitForSave(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	a.block = make(chan error)
	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	require.Eventually(t, func() bool {
		_, saves := a.calls()
		return saves == 1
	}, time.Second, 5*time.Millisecond)

	acquired := make(chan func(), 1)
	go func() {
		if release, err := s.Acquire(context.Background()); err == nil {
			acquired <- release
		}
	}()

	select {
	case <-acquired:
		t.Fatal("operation admitted while the save was writing")
	case <-time.After(50 * time.Millisecond):
	}

	a.block <- nil
	require.NoError(t, <-done)

	select {
	case release := <-acquired:
		release()
	case <-time.After(time.Second):
		t.Fatal("operation never admitted after the save")
	}
}

func TestLoadWaitsForAbandonedSave(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	a.block = make(chan error)
	saved := make(chan error, 1)
	go func() { saved <- s.Save(context.Background()) }()
	require.Eventually(t, func() bool {
		_, saves := a.calls()
		return saves == 1
	}, time.Second, 5*time.Millisecond)

	s.Unload()
	assert.False(t, s.Status().IsSaving)

	loaded := make(chan error, 1)
	go func() { loaded <- s.Load(context.Background(), strPtr("alpha"), false) }()

	assert.Never(t, func() bool {
		loads, _ := a.calls()
		return loads > 1
	}, 50*time.Millisecond, 5*time.Millisecond, "load read files while the save was writing them")

	a.block <- nil
	require.NoError(t, <-saved)

	a.block <- nil
	require.NoError(t, <-loaded)
	assert.Equal(t, "alpha", *s.Status().SelectedProduct)
}

func TestSaveAbandonedBeforeWriting(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestService(t, a)
	require.NoError(t, s.SelectDirectory(context.Background(), "/proj"))
	require.NoError(t, s.Load(context.Background(), strPtr("alpha"), false))

	release, err := s.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	require.Eventually(t, func() bool { return s.Status().IsSaving }, time.Second, 5*time.Millisecond)

	s.Unload()
	release()

	err = <-done
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeSaveDatabase, appErr.Code)
	assert.Equal(t, msgSaveInterrupted, appErr.Message)
	_, saves := a.calls()
	assert.Equal(t, 0, saves)
}
