package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/veles-ai/veles/internal/transport"
)

// probeTimeout bounds one probe invocation, not the whole check cascade.
const probeTimeout = 5 * time.Second

// maxHealthBody limits how much of a /health response body is read.
// Health payloads are tiny; the cap guards against a misbehaving server.
const maxHealthBody = 4 << 10

// DefaultHealthPort is tried when the primary address carries no
// dedicated health port.
const DefaultHealthPort = "8080"

// Probe is one strategy in the check cascade. Check returns nil only
// when the backend looks healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthyPayload reports whether a decoded health response signals
// health: either a {status} field or, for unparsed payloads, a string
// containing "healthy".
func healthyPayload(payload any) bool {
	switch v := payload.(type) {
	case map[string]any:
		if status, ok := v["status"].(string); ok {
			return strings.Contains(strings.ToLower(status), "healthy")
		}
		// Envelope form: {success, data: {status}}.
		if data, ok := v["data"].(map[string]any); ok {
			return healthyPayload(data)
		}
		return false
	case string:
		return strings.Contains(strings.ToLower(v), "healthy")
	default:
		return false
	}
}

// NewHTTPProbe checks GET <baseURL>/health for a healthy status payload.
func NewHTTPProbe(baseURL string, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: probeTimeout}).DialContext,
			},
		}
	}
	healthURL := strings.TrimRight(baseURL, "/") + "/health"
	return Probe{
		Name: "http-health",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
			if err != nil {
				return fmt.Errorf("health: create request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health: %s returned %d", healthURL, resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
			if err != nil {
				return fmt.Errorf("health: read body: %w", err)
			}
			var payload any
			if err := json.Unmarshal(body, &payload); err != nil {
				payload = string(body)
			}
			if !healthyPayload(payload) {
				return fmt.Errorf("health: %s reported unhealthy payload", healthURL)
			}
			return nil
		},
	}
}

// NewTransportProbe issues the generic system-health command directly on
// the transport, bypassing retry and fallback so a probe can never
// recurse into the engine.
func NewTransportProbe(t transport.Transport) Probe {
	return Probe{
		Name: "transport-command",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			payload, err := t.Call(checkCtx, "system.health", nil)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			if !healthyPayload(payload) {
				return fmt.Errorf("health: system.health reported unhealthy payload")
			}
			return nil
		},
	}
}

// DeriveHealthURL builds the raw-probe address from the primary service
// URL: same host, dedicated health port.
func DeriveHealthURL(primary, port string) (string, error) {
	parsed, err := url.Parse(primary)
	if err != nil {
		return "", fmt.Errorf("health: parse primary address %q: %w", primary, err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("health: primary address %q has no host", primary)
	}
	if port == "" {
		port = DefaultHealthPort
	}
	return (&url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, port),
	}).String(), nil
}

// NewDerivedProbe is the last-resort strategy: a raw HTTP probe against
// the health address derived from the primary service URL.
func NewDerivedProbe(primary, port string, client *http.Client) (Probe, error) {
	derived, err := DeriveHealthURL(primary, port)
	if err != nil {
		return Probe{}, err
	}
	probe := NewHTTPProbe(derived, client)
	probe.Name = "derived-address"
	return probe, nil
}

// NewGRPCProbe checks grpc.health.v1 on addr, for backends exposing
// their health surface over gRPC instead of HTTP.
func NewGRPCProbe(addr string) Probe {
	return Probe{
		Name: "grpc-health",
		Check: func(ctx context.Context) error {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("health: invalid grpc address %q: %w", addr, err)
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("health: grpc connect: %w", err)
			}
			defer conn.Close()

			checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("health: grpc check: %w", err)
			}
			if resp.Status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("health: grpc status %s", resp.Status)
			}
			return nil
		},
	}
}
