// Package update tracks application update state and checks a
// Squirrel-style release feed.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/appshell/config"
	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/grovetools/appshell/version"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Update states.
const (
	StateIdle          = "idle"
	StateChecking      = "checking"
	StateDownloading   = "downloading"
	StateAvailable     = "update-available"
	StateNoneAvailable = "no-update-available"
	StateUnsupported   = "unsupported"
	StateError         = "error"
)

// Status is the update manager snapshot sent to renderers.
type Status = protocol.UpdateStatus

// Release is the body of a feed response announcing an update.
type Release struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Notes   string `json:"notes"`
	PubDate string `json:"pub_date,omitempty"`
}

// CheckResult is returned by Check.
type CheckResult = protocol.UpdateCheckResult

// Installer applies a downloaded release.
type Installer func(ctx context.Context, release Release) error

// Options configures a Manager.
type Options struct {
	Config     config.UpdateConfig
	Version    string
	Platform   string
	Settings   *state.Store
	Bus        *alert.Bus
	HTTPClient *http.Client
	Installer  Installer
}

// Manager is the update state machine.
type Manager struct {
	cfg       config.UpdateConfig
	channels  []string
	settings  *state.Store
	bus       *alert.Bus
	client    *http.Client
	installer Installer
	logger    *logrus.Entry
	scheduler *cron.Cron

	mu             sync.Mutex
	state          string
	platform       string
	version        string
	channel        *string
	defaultChannel string
	channelChanged bool
	release        *Release
	errorMessage   *string
	timestamp      int64
}

// New creates a manager. It is unsupported when updates are disabled or
// no feed is configured.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		channels:  opts.Config.Channels,
		settings:  opts.Settings,
		bus:       opts.Bus,
		client:    opts.HTTPClient,
		installer: opts.Installer,
		logger:    logging.NewLogger("update"),
		platform:  opts.Platform,
		version:   opts.Version,
		state:     StateIdle,
	}
	if len(m.channels) == 0 {
		m.channels = config.DefaultChannels
	}
	if m.platform == "" {
		m.platform = version.Platform()
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: 30 * time.Second}
	}
	m.defaultChannel = version.DefaultChannel(m.version, m.channels)

	enabled := opts.Config.Enabled == nil || *opts.Config.Enabled
	if !enabled || opts.Config.BaseURL == "" {
		m.state = StateUnsupported
	}
	return m
}

// Start resolves the channel and schedules periodic checks, running the
// first check right away. It does nothing when unsupported.
func (m *Manager) Start(ctx context.Context) error {
	if m.Status().State == StateUnsupported {
		m.logger.Debug("Automatic updates are unsupported")
		return nil
	}

	channel := m.loadChannel(ctx)
	m.mu.Lock()
	m.channel = &channel
	m.mu.Unlock()
	m.logger.WithField("feed", m.FeedURL()).Debug("Using update feed")

	m.scheduler = cron.New()
	if _, err := m.scheduler.AddFunc(m.cfg.CheckSchedule, func() {
		if _, err := m.Check(ctx); err != nil {
			m.logger.WithError(err).Warn("Scheduled update check failed")
		}
	}); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid update check schedule")
	}
	m.scheduler.Start()

	go func() {
		if _, err := m.Check(ctx); err != nil {
			m.logger.WithError(err).Warn("Initial update check failed")
		}
	}()
	return nil
}

// Stop cancels scheduled checks.
func (m *Manager) Stop() {
	if m.scheduler != nil {
		<-m.scheduler.Stop().Done()
	}
}

func (m *Manager) loadChannel(ctx context.Context) string {
	if m.settings == nil {
		return m.defaultChannel
	}
	channel, err := m.settings.GetString(ctx, state.KeyChannel)
	if err != nil {
		m.logger.WithError(err).Debug("Unable to retrieve saved update channel")
		m.settings.Set(state.KeyChannel, m.defaultChannel)
		return m.defaultChannel
	}
	if channel == "" {
		return m.defaultChannel
	}
	return channel
}

// FeedURL returns <base>/<platform>/<version>/<channel>.
func (m *Manager) FeedURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel := m.defaultChannel
	if m.channel != nil {
		channel = *m.channel
	}
	return strings.TrimSuffix(m.cfg.BaseURL, "/") + "/" + m.platform + "/" + m.version + "/" + channel
}

// Status returns a snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:          m.state,
		Platform:       m.platform,
		ChannelChanged: m.channelChanged,
		CurrentVersion: m.version,
		Timestamp:      m.timestamp,
	}
	if m.channel != nil {
		c := *m.channel
		st.Channel = &c
	}
	if m.release != nil {
		notes, name := m.release.Notes, m.release.Name
		st.ReleaseNotes = &notes
		st.UpdateVersion = &name
	}
	if m.errorMessage != nil {
		msg := *m.errorMessage
		st.ErrorMessage = &msg
	}
	return st
}

func (m *Manager) setState(s, errorMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.timestamp = time.Now().UnixMilli()
	m.errorMessage = nil
	if errorMessage != "" {
		m.errorMessage = &errorMessage
	}
}

func (m *Manager) publish(alertType string) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(alertType, m.Status(), false, false); err != nil {
		m.logger.WithError(err).Error("Failed to send update alert")
	}
}

// Check queries the feed. When unsupported it only reports the releases
// page. A check already in progress is not repeated.
func (m *Manager) Check(ctx context.Context) (*CheckResult, error) {
	m.mu.Lock()
	switch m.state {
	case StateUnsupported:
		m.mu.Unlock()
		return &CheckResult{ReleasesURL: m.cfg.ReleasesURL}, nil
	case StateChecking, StateDownloading:
		m.mu.Unlock()
		return &CheckResult{}, nil
	}
	m.state = StateChecking
	m.errorMessage = nil
	m.timestamp = time.Now().UnixMilli()
	m.mu.Unlock()
	m.publish(protocol.AlertAppUpdateStatus)
	m.logger.Info("Checking for updates.")

	release, err := m.fetch(ctx)
	if err != nil {
		m.setState(StateError, err.Error())
		m.publish(protocol.AlertAppUpdateError)
		m.logger.WithError(err).Error("Error checking for updates")
		return nil, errors.Wrap(err, errors.ErrCodeUpdate, "Failed to check for updates.")
	}

	if release == nil {
		m.setState(StateNoneAvailable, "")
		m.publish(protocol.AlertAppUpdateStatus)
		m.logger.Info("No updates found.")
		return &CheckResult{}, nil
	}

	m.setState(StateDownloading, "")
	m.publish(protocol.AlertAppUpdateStatus)
	m.logger.WithField("version", release.Name).Info("Update available.")

	m.mu.Lock()
	m.release = release
	m.mu.Unlock()
	m.setState(StateAvailable, "")
	m.publish(protocol.AlertAppUpdateStatus)
	return &CheckResult{}, nil
}

func (m *Manager) fetch(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.FeedURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var release Release
		if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
			return nil, fmt.Errorf("decode release: %w", err)
		}
		if release.Name == "" {
			return nil, fmt.Errorf("release has no name")
		}
		return &release, nil
	}
	return nil, fmt.Errorf("update feed returned %s", resp.Status)
}

// Install applies the available update through the installer.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	current, release := m.state, m.release
	m.mu.Unlock()

	if current != StateAvailable || release == nil {
		return errors.New(errors.ErrCodeUpdate, "No downloaded update is available to install.")
	}
	if m.installer == nil {
		return errors.New(errors.ErrCodeUpdate, "Installing updates is not supported on this platform.")
	}
	if err := m.installer(ctx, *release); err != nil {
		m.setState(StateError, err.Error())
		m.publish(protocol.AlertAppUpdateError)
		return errors.Wrap(err, errors.ErrCodeUpdate, "Failed to install a downloaded update.")
	}
	return nil
}

// SelectChannel persists the channel used from the next start on.
func (m *Manager) SelectChannel(channel string) error {
	valid := false
	for _, c := range m.channels {
		if c == channel {
			valid = true
			break
		}
	}
	if !valid {
		return errors.New(errors.ErrCodeUpdate, "Desired channel is not valid.").WithDetail("channel", channel)
	}

	if m.settings != nil {
		m.settings.Set(state.KeyChannel, channel)
		if err := m.settings.Save(); err != nil {
			m.logger.WithError(err).Warn("Failed to save update channel")
		}
	}

	m.mu.Lock()
	m.channel = &channel
	m.channelChanged = true
	m.mu.Unlock()

	m.publish(protocol.AlertAppUpdateStatus)
	return nil
}
