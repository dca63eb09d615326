package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the kind of account message
type EventType string

const (
	EventPasswordReset EventType = "password_reset"
	EventTest          EventType = "test"
)

// Event is a message for one account holder
type Event struct {
	Type      EventType
	Recipient string
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

// Provider is the interface for notification providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Send delivers one event
	Send(ctx context.Context, event Event) error
}

// Manager queues events and hands them to every registered provider on a
// background goroutine, so request handlers never wait for delivery.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
	events    chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	timeout   time.Duration

	// Running state
	running bool
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		events:    make(chan Event, 100),
		stopChan:  make(chan struct{}),
		timeout:   30 * time.Second,
	}
}

// RegisterProvider registers a notification provider
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	m.providers[provider.Name()] = provider
	m.mu.Unlock()

	log.Info().Str("provider", provider.Name()).Msg("Registered notification provider")
}

// ListProviders returns all registered provider names
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Start starts the notification dispatcher.
// Returns true if the manager was started (providers exist), false otherwise.
func (m *Manager) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return true
	}
	if len(m.providers) == 0 {
		return false
	}

	m.running = true
	stop := m.stopChan
	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Notification dispatcher panicked")
			}
		}()
		m.dispatcher(stop)
	})
	log.Info().Msg("Notification manager started")
	return true
}

// Stop stops the notification dispatcher. Events still queued are dropped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("Notification manager stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Notify queues an event for delivery. It never blocks.
func (m *Manager) Notify(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !m.IsRunning() {
		log.Debug().Str("type", string(event.Type)).Msg("No notification provider configured, dropping event")
		return
	}
	select {
	case m.events <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Notification queue full, dropping event")
	}
}

func (m *Manager) dispatcher(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event := <-m.events:
			m.dispatch(event)
		}
	}
}

// dispatch sends an event to all registered providers
func (m *Manager) dispatch(event Event) {
	m.mu.RLock()
	providers := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for _, provider := range providers {
		if err := provider.Send(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("provider", provider.Name()).
				Str("event", string(event.Type)).
				Msg("Failed to send notification")
			continue
		}
		log.Debug().
			Str("provider", provider.Name()).
			Str("event", string(event.Type)).
			Msg("Notification sent")
	}
}
