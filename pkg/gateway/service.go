package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/pkg/bus"
	"relaybot/pkg/channel"
	"relaybot/pkg/config"
	"relaybot/pkg/event"
	"relaybot/pkg/provider"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790
)

// Processor consumes raw notifications; *bot.Bot implements it.
type Processor interface {
	HandleRaw(ctx context.Context, raw event.Raw)
	SetSelf(channel string, userID string)
	Start(ctx context.Context)
	Wait()
}

// Options carries the optional collaborators of a Service.
type Options struct {
	// Provider is health checked when set; readiness then depends on it.
	Provider provider.Client
	// Gatherer backs /metrics. Nil serves the default Prometheus registry.
	Gatherer prometheus.Gatherer
	// DisableStatusServer skips the HTTP status listener.
	DisableStatusServer bool
	Logger              *slog.Logger
}

// Service runs the channel adapters and moves traffic between them, the
// message bus and the bot.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *bus.MessageBus
	processor Processor
	channels  *channel.Mux
	provider  provider.Client
	gatherer  prometheus.Gatherer
	noStatus  bool

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Self    string `json:"self,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, mb *bus.MessageBus, processor Processor, channels *channel.Mux, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if channels == nil || len(channels.Adapters()) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	channelStates := make(map[string]channelState)
	for _, adapter := range channels.Adapters() {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		bus:           mb,
		processor:     processor,
		channels:      channels,
		provider:      opts.Provider,
		gatherer:      gatherer,
		noStatus:      opts.DisableStatusServer,
		channelStates: channelStates,
	}, nil
}

// Run blocks until ctx is cancelled or a channel or the status server fails.
// An adapter that returns without error stops the service.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.provider != nil {
		if err := s.checkProviderHealth(ctx); err != nil {
			s.log.Warn("Provider unhealthy at startup", "error", err)
		}
		go s.watchProviderHealth(ctx, 30*time.Second)
	}

	serverErrors := make(chan error, 1)
	if !s.noStatus {
		go s.runStatusServer(ctx, serverErrors)
	}

	s.processor.Start(ctx)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.drainInbound(ctx)
	}()
	go func() {
		defer loops.Done()
		s.drainOutbound(ctx)
	}()

	adapters := s.channels.Adapters()
	errCh := make(chan error, len(adapters))
	for _, adapter := range adapters {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.sinkFor(adapter))
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
				return
			}
			errCh <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
	}

	cancel()
	loops.Wait()
	s.processor.Wait()

	return runErr
}

// sinkFor records the adapter's own id with the processor before queueing
// each notification, so self echoes are recognised.
func (s *Service) sinkFor(adapter channel.Adapter) channel.Sink {
	return func(ctx context.Context, raw event.Raw) bool {
		if self := adapter.Self(); self != "" {
			s.processor.SetSelf(adapter.Name(), self)
			s.setChannelSelf(adapter.Name(), self)
		}
		if raw.Channel == "" {
			raw.Channel = adapter.Name()
		}

		return s.bus.PublishInbound(ctx, raw)
	}
}

func (s *Service) drainInbound(ctx context.Context) {
	for {
		raw, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		s.bus.PublishEvent(ctx, bus.Event{
			Type:           bus.EventNotificationReceived,
			Channel:        raw.Channel,
			ConversationID: raw.ConversationID,
			MessageID:      raw.ID,
			Payload:        map[string]string{"kind": raw.Kind.String()},
		})
		s.processor.HandleRaw(ctx, raw)
	}
}

func (s *Service) drainOutbound(ctx context.Context) {
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		notice := bus.Event{
			Type:           bus.EventMessageSent,
			Channel:        msg.Channel,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		}
		if err := s.channels.Send(ctx, msg); err != nil {
			s.log.Error("Failed to deliver message", "channel", msg.Channel, "conversation_id", msg.ConversationID, "error", err)
			notice.Type = bus.EventMessageFailed
			notice.Error = err.Error()
		}
		s.bus.PublishEvent(ctx, notice)
	}
}

func (s *Service) watchProviderHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil {
				s.log.Warn("Provider health check failed", "error", err)
			}
		}
	}
}

func (s *Service) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
}

// isReady requires one running channel, and a healthy provider when one is
// configured.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.provider == nil {
		return true
	}

	return !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Self = s.channelStates[name].Self
	s.channelStates[name] = state
}

func (s *Service) setChannelSelf(name string, self string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.channelStates[name]
	state.Self = self
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
