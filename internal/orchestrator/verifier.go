package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parityleague/backend/internal/protocol"
)

// Verify performs the one-shot post-startup handshake: the agent must
// report itself healthy with the expected role on /health and speak the
// current protocol version on /initialize.
func Verify(ctx context.Context, endpoint, wantRole string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	var health struct {
		Status string `json:"status"`
		Role   string `json:"role"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("agent reports status %q", health.Status)
	}
	if wantRole != "" && health.Role != wantRole {
		return fmt.Errorf("agent role is %q, want %q", health.Role, wantRole)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/initialize", nil)
	if err != nil {
		return err
	}
	resp, err = client.Do(req)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	err = json.NewDecoder(resp.Body).Decode(&init)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if init.ProtocolVersion != protocol.ProtocolVersion {
		return fmt.Errorf("agent speaks %q, want %q", init.ProtocolVersion, protocol.ProtocolVersion)
	}
	return nil
}
