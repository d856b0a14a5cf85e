package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"relaybot/pkg/bus"
	"relaybot/pkg/channel"
	"relaybot/pkg/config"
	"relaybot/pkg/event"
)

type nopProcessor struct{}

func (nopProcessor) HandleRaw(context.Context, event.Raw) {}
func (nopProcessor) SetSelf(string, string) {}
func (nopProcessor) Start(context.Context) {}
func (nopProcessor) Wait() {}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {Running: true}}}
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and no provider")
	}

	svc.provider = &toggledHealthProvider{}
	if svc.isReady() {
		t.Fatal("expected not ready without provider health")
	}

	svc.providerLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy provider")
	}

	svc.providerLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when provider has error")
	}

	svc.channelStates["telegram"] = channelState{Running: false}
	svc.providerLastErr = ""
	if svc.isReady() {
		t.Fatal("expected not ready without a running channel")
	}
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	mux, err := channel.NewMux(newScriptedAdapter("script"))
	require.NoError(t, err)
	empty, err := channel.NewMux()
	require.NoError(t, err)

	_, err = NewService(nil, mb, nopProcessor{}, mux, Options{})
	require.Error(t, err)
	_, err = NewService(config.Default(), nil, nopProcessor{}, mux, Options{})
	require.Error(t, err)
	_, err = NewService(config.Default(), mb, nil, mux, Options{})
	require.Error(t, err)
	_, err = NewService(config.Default(), mb, nopProcessor{}, empty, Options{})
	require.Error(t, err)

	svc, err := NewService(config.Default(), mb, nopProcessor{}, mux, Options{})
	require.NoError(t, err)
	require.Contains(t, svc.channelStates, "script")
}

func TestStatusEndpoints(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "relaybot_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	svc := &Service{
		gatherer:      registry,
		channelStates: map[string]channelState{"console": {Running: true, Self: "relaybot"}},
		startedAt:     time.Now().UTC(),
	}
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	var status statusResponse
	require.NoError(t, json.NewDecoder(response.Body).Decode(&status))
	require.Equal(t, "ready", status.Status)
	require.Equal(t, "relaybot", status.Channels["console"].Self)

	metrics, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "relaybot_test_total 1")
}
