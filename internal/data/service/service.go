// Package service holds the data process state machine: project directory
// selection, product loading and saving, and access to the in-memory store.
package service

import (
	"context"
	stderrors "errors"
	"io/fs"
	"slices"
	"sync"
	"time"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/adapter"
	"github.com/grovetools/appshell/internal/data/docstore"
	"github.com/grovetools/appshell/internal/data/gate"
	"github.com/grovetools/appshell/internal/data/projectfs"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/profiling"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/sirupsen/logrus"
)

const (
	msgSelectActive  = "Failed to select project directory, a product is currently open."
	msgSelectInvalid = "Failed to select project directory, the directory is invalid."

	msgLoadWhileLoading = "Failed to load database, it is currently being loaded."
	msgLoadWhileSaving  = "Failed to load database, it is currently being saved."
	msgLoadModified     = "The database has been modified, use force to drop changes and continue reloading."
	msgLoadInvalid      = "Failed to load database, the requested product is invalid."
	msgLoadInterrupted  = "Failed to load database, it was unloaded before loading completed."

	msgSaveWhileLoading = "Failed to save database, it is currently being loaded."
	msgSaveWhileSaving  = "Failed to save database, it is currently being saved."
	msgSaveNothing      = "Failed to save database, no product is currently loaded."
	msgSaveUnmodified   = "The database has not been modified, no changes to save."
	msgSaveInterrupted  = "Failed to save database, it was unloaded before saving started."

	msgLoadStart   = "Loading Database."
	msgLoadSuccess = "Database Loaded Successfully."
	msgSaveStart   = "Saving Database."
	msgSaveSuccess = "Database Saved Successfully."
)

// Status texts for the phases the service itself drives. The adapter
// reports the phases in between.
const (
	StatusLoadStart   = "Loading: Initializing."
	StatusLoadCleanup = "Loading: Cleaning up."
	StatusSaveStart   = "Saving: Initializing."
	StatusSaveCleanup = "Saving: Cleaning up."
)

// Message is the payload of status and status-text alerts.
type Message struct {
	Message string `json:"message"`
}

// Config configures a Service.
type Config struct {
	// Adapter defaults to a FileAdapter reporting through the bus.
	Adapter adapter.Adapter
	Lister  projectfs.Lister
	Bus     *alert.Bus

	// Watch re-lists the selected directory when it changes.
	Watch    bool
	Debounce time.Duration
}

// Service is the DataStore. Lifecycle operations never overlap: load and
// save check and set their flags under mu before doing any I/O, then hold
// busy for writing until the I/O has finished. Content operations hold busy
// for reading, so a save never writes a store that is being mutated and a
// load never overlaps a save abandoned by Unload.
type Service struct {
	adapter  adapter.Adapter
	lister   projectfs.Lister
	bus      *alert.Bus
	gate     *gate.Gate
	logger   *logrus.Entry
	watch    bool
	debounce time.Duration
	now      func() time.Time

	busy sync.RWMutex

	mu                sync.Mutex
	db                *docstore.Database
	projectDirectory  *string
	availableProducts []string
	selectedProduct   *string
	isLoading         bool
	isSaving          bool
	isModified        bool
	generation        uint64

	watcher   *projectfs.Watcher
	stopWatch context.CancelFunc
}

// New creates a service in the unloaded state. Its availability gate is
// pending until the first load completes.
func New(cfg Config) (*Service, error) {
	s := &Service{
		adapter:  cfg.Adapter,
		lister:   cfg.Lister,
		bus:      cfg.Bus,
		gate:     gate.New(),
		logger:   logging.NewLogger("data"),
		watch:    cfg.Watch,
		debounce: cfg.Debounce,
		now:      time.Now,
	}
	if s.bus == nil {
		s.bus = alert.NewBus(nil)
	}
	s.bus.SetStatusProvider(s.Status)
	if s.lister == nil {
		l, err := projectfs.NewDirLister(nil)
		if err != nil {
			return nil, err
		}
		s.lister = l
	}
	if s.adapter == nil {
		s.adapter = adapter.NewFileAdapter(s.StatusText)
	}
	return s, nil
}

// Bus returns the alert bus the service publishes on.
func (s *Service) Bus() *alert.Bus {
	return s.bus
}

// Status returns a fresh snapshot.
func (s *Service) Status() *protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &protocol.Status{
		Timestamp:         s.now().UnixMilli(),
		ProjectDirectory:  s.projectDirectory,
		AvailableProducts: s.availableProducts,
		SelectedProduct:   s.selectedProduct,
		IsLoading:         s.isLoading,
		IsSaving:          s.isSaving,
	}
	st = st.Clone()
	if st.AvailableProducts == nil {
		st.AvailableProducts = []string{}
	}
	return st
}

// IsModified reports whether the store has unsaved mutations.
func (s *Service) IsModified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isModified
}

// SelectDirectory records the project directory and its products. It is
// refused while a product is selected.
func (s *Service) SelectDirectory(ctx context.Context, dir string) error {
	s.mu.Lock()
	if s.selectedProduct != nil {
		s.mu.Unlock()
		return errors.InvalidDirectory(msgSelectActive)
	}
	s.mu.Unlock()

	if dir == "" {
		return errors.InvalidDirectory(msgSelectInvalid)
	}

	products, err := s.lister.ListProducts(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, errors.ErrCodeInvalidDirectory, msgSelectInvalid)
		}
		return err
	}

	s.mu.Lock()
	if s.selectedProduct != nil {
		s.mu.Unlock()
		return errors.InvalidDirectory(msgSelectActive)
	}
	d := dir
	s.projectDirectory = &d
	s.availableProducts = products
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"dir": dir, "products": len(products)}).Info("Selected project directory")
	s.watchDirectory(dir)
	s.publishStatus("")
	return nil
}

// Load reads a product into a new in-memory store. A nil product with a
// product already selected is a successful no-op.
func (s *Service) Load(ctx context.Context, product *string, force bool) error {
	s.mu.Lock()
	if s.isLoading {
		s.mu.Unlock()
		return errors.ConcurrentDatabase(msgLoadWhileLoading)
	}
	if s.isSaving {
		s.mu.Unlock()
		return errors.ConcurrentDatabase(msgLoadWhileSaving)
	}
	if s.isModified && !force {
		s.mu.Unlock()
		return errors.LoadDatabase(msgLoadModified)
	}
	if product == nil || *product == "" {
		selected := s.selectedProduct != nil
		s.mu.Unlock()
		if selected {
			return nil
		}
		return errors.LoadDatabase(msgLoadInvalid)
	}
	if s.projectDirectory == nil || !contains(s.availableProducts, *product) {
		s.mu.Unlock()
		return errors.LoadDatabase(msgLoadInvalid)
	}

	prevDB, prevProduct := s.db, s.selectedProduct
	name := *product
	s.selectedProduct = &name
	s.isLoading = true
	handle := s.gate.Open()
	gen := s.generation
	target := adapter.Target{ProjectDirectory: *s.projectDirectory, Product: name}
	s.mu.Unlock()

	logger := s.logger.WithField("product", name)
	logger.Debug(msgLoadStart)
	s.publishStatus("")

	span := profiling.Start("load")
	defer span.Stop()

	wait := span.Start("wait for operations")
	s.busy.Lock()
	defer s.busy.Unlock()
	wait.Stop()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return s.discardLoad(handle, logger)
	}
	if s.isModified && !force {
		// A content operation admitted before the gate opened changed the
		// store while this load waited for it.
		s.selectedProduct = prevProduct
		s.isLoading = false
		s.mu.Unlock()

		refused := errors.LoadDatabase(msgLoadModified)
		handle.Reject(refused)
		s.gate.Open().Resolve()
		logger.Warn(msgLoadModified)
		s.publishStatus("")
		return refused
	}
	s.mu.Unlock()

	s.StatusText(StatusLoadStart)
	read := span.Start("adapter read")
	db, err := s.adapter.Load(ctx, target)
	read.Stop()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return s.discardLoad(handle, logger)
	}
	if err != nil {
		s.db = prevDB
		s.selectedProduct = prevProduct
		s.isLoading = false
		restored := prevDB != nil
		s.mu.Unlock()

		handle.Reject(err)
		if restored {
			s.gate.Open().Resolve()
		}
		logger.WithError(err).Error("Failed to load database")
		s.publishStatus("")
		return err
	}
	s.db = db
	s.isModified = false
	s.isLoading = false
	s.mu.Unlock()

	s.StatusText(StatusLoadCleanup)
	logger.Info(msgLoadSuccess)
	s.publishStatus(msgLoadSuccess)
	handle.Resolve()
	return nil
}

func (s *Service) discardLoad(handle *gate.Handle, logger *logrus.Entry) error {
	stale := errors.LoadDatabase(msgLoadInterrupted)
	handle.Reject(stale)
	logger.Warn("Discarding load, the database was unloaded meanwhile")
	return stale
}

// Save writes the in-memory store back through the adapter. Saving an
// unmodified store is allowed and only warns.
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.isLoading {
		s.mu.Unlock()
		return errors.ConcurrentDatabase(msgSaveWhileLoading)
	}
	if s.isSaving {
		s.mu.Unlock()
		return errors.ConcurrentDatabase(msgSaveWhileSaving)
	}
	if s.db == nil || s.selectedProduct == nil || s.projectDirectory == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeSaveDatabase, msgSaveNothing)
	}

	s.isSaving = true
	handle := s.gate.Open()
	gen := s.generation
	target := adapter.Target{ProjectDirectory: *s.projectDirectory, Product: *s.selectedProduct}
	s.mu.Unlock()

	logger := s.logger.WithField("product", target.Product)
	logger.Debug(msgSaveStart)
	s.StatusText(StatusSaveStart)
	s.publishStatus("")

	span := profiling.Start("save")
	defer span.Stop()

	wait := span.Start("wait for operations")
	s.busy.Lock()
	defer s.busy.Unlock()
	wait.Stop()

	// Operations admitted before the gate opened have finished, so the
	// modified flag and the store are settled for the write.
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		handle.Resolve()
		logger.Warn("Skipping save, the database was unloaded meanwhile")
		return errors.New(errors.ErrCodeSaveDatabase, msgSaveInterrupted)
	}
	modified := s.isModified
	db := s.db
	s.mu.Unlock()

	if !modified {
		logger.Warn(msgSaveUnmodified)
		s.StatusText(msgSaveUnmodified)
	}

	write := span.Start("adapter write")
	err := s.adapter.Save(ctx, target, db)
	write.Stop()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		handle.Resolve()
		if err != nil {
			return errors.SaveDatabase(err)
		}
		return nil
	}
	s.isSaving = false
	if err == nil {
		s.isModified = false
	}
	s.mu.Unlock()

	// The in-memory store is intact either way, so waiting operations
	// may proceed.
	if err != nil {
		handle.Resolve()
		logger.WithError(err).Error("Failed to save database")
		s.publishStatus("")
		return errors.SaveDatabase(err)
	}

	s.StatusText(StatusSaveCleanup)
	logger.Info(msgSaveSuccess)
	s.publishStatus(msgSaveSuccess)
	handle.Resolve()
	return nil
}

// Unload drops the in-memory store and the selected product. The project
// directory stays selected. Operations already waiting on an in-flight load
// or save still observe that operation's outcome.
func (s *Service) Unload() {
	s.mu.Lock()
	s.generation++
	if s.isLoading || s.isSaving {
		s.gate.Reset()
	} else {
		s.gate.Open()
	}
	s.db = nil
	s.selectedProduct = nil
	s.isLoading = false
	s.isSaving = false
	s.isModified = false
	s.mu.Unlock()

	s.logger.Info("Database unloaded")
	s.publishStatus("")
}

// Available blocks until the store is ready. It waits on whichever gate
// is current at call time.
func (s *Service) Available(ctx context.Context) error {
	return s.gate.Wait(ctx)
}

// Acquire waits like Available and then holds the store against load and
// save until release is called.
func (s *Service) Acquire(ctx context.Context) (release func(), err error) {
	if err := s.gate.Wait(ctx); err != nil {
		return nil, err
	}
	s.busy.RLock()
	return s.busy.RUnlock, nil
}

// Collection returns the named collection of the loaded store, or nil.
func (s *Service) Collection(name string) *docstore.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Collection(name)
}

// MarkModified flags the store as holding unsaved mutations.
func (s *Service) MarkModified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.isModified = true
	}
}

// StatusText publishes a progress text without a status snapshot.
func (s *Service) StatusText(text string) {
	_ = s.bus.Publish(protocol.AlertDBStatusText, Message{Message: text}, false, false)
}

// Close stops the directory watcher.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()
}

func (s *Service) publishStatus(message string) {
	var payload interface{}
	if message != "" {
		payload = Message{Message: message}
	}
	_ = s.bus.Publish(protocol.AlertDBStatus, payload, false, true)
}

func (s *Service) watchDirectory(dir string) {
	if !s.watch {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()

	w, err := projectfs.NewWatcher(dir, s.debounce, s.refreshProducts)
	if err != nil {
		s.logger.WithError(err).WithField("dir", dir).Warn("Failed to watch project directory")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = w
	s.stopWatch = cancel
	go w.Start(ctx)
}

func (s *Service) stopWatcherLocked() {
	if s.watcher == nil {
		return
	}
	s.stopWatch()
	if err := s.watcher.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close watcher")
	}
	s.watcher = nil
	s.stopWatch = nil
}

func (s *Service) refreshProducts(dir string) {
	products, err := s.lister.ListProducts(dir)
	if err != nil {
		s.logger.WithError(err).WithField("dir", dir).Warn("Failed to refresh products")
		return
	}

	s.mu.Lock()
	if s.projectDirectory == nil || *s.projectDirectory != dir || slices.Equal(s.availableProducts, products) {
		s.mu.Unlock()
		return
	}
	s.availableProducts = products
	s.mu.Unlock()

	s.logger.WithField("products", products).Debug("Project directory changed")
	s.publishStatus("")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
