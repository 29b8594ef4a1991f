package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/protocol"
)

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, InitialDelayS: 0.01, Multiplier: 2}
}

func looseCircuit() config.CircuitConfig {
	return config.CircuitConfig{FailureThreshold: 100, ResetTimeoutS: 1, SuccessThreshold: 1}
}

func rpcResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(protocol.Response{JSONRPC: "2.0", Result: raw})
}

func rpcFail(w http.ResponseWriter, rpcErr *protocol.RPCError) {
	json.NewEncoder(w).Encode(protocol.Response{JSONRPC: "2.0", Error: rpcErr})
}

func TestClientRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(t, w, map[string]string{"status": "ACCEPTED"})
	}))
	defer ts.Close()

	c := NewClient(fastRetry(), looseCircuit(), zap.NewNop())
	var out map[string]string
	if err := c.Call(context.Background(), ts.URL, "report_match_result", struct{}{}, &out); err != nil {
		t.Fatalf("call should succeed on the third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	if out["status"] != "ACCEPTED" {
		t.Errorf("result = %v", out)
	}
}

func TestClientRetriesRetryableDomainErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			rpcFail(w, protocol.NewDomainRPCError(
				protocol.NewDomainError(protocol.ErrServiceUnavailable, "warming up")))
			return
		}
		rpcResult(t, w, map[string]string{"status": "ACCEPTED"})
	}))
	defer ts.Close()

	c := NewClient(fastRetry(), looseCircuit(), zap.NewNop())
	if err := c.Call(context.Background(), ts.URL, "register_player", struct{}{}, nil); err != nil {
		t.Fatalf("E001 is retryable: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("attempts = %d, want 2", calls.Load())
	}
}

func TestClientDoesNotRetryNonRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rpcFail(w, protocol.NewDomainRPCError(
			protocol.NewDomainError(protocol.ErrUnknownMatch, "match not in schedule")))
	}))
	defer ts.Close()

	c := NewClient(fastRetry(), looseCircuit(), zap.NewNop())
	err := c.Call(context.Background(), ts.URL, "report_match_result", struct{}{}, nil)
	if err == nil {
		t.Fatal("E004 should surface as an error")
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", calls.Load())
	}

	var de *protocol.DomainError
	if !errors.As(err, &de) || de.ErrorCode != protocol.ErrUnknownMatch {
		t.Errorf("error should carry the domain code: %v", err)
	}
}

func TestClientDoesNotRetryProtocolErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rpcFail(w, protocol.NewRPCError(protocol.CodeMethodNotFound, "method not found"))
	}))
	defer ts.Close()

	c := NewClient(fastRetry(), looseCircuit(), zap.NewNop())
	if err := c.Call(context.Background(), ts.URL, "bogus", struct{}{}, nil); err == nil {
		t.Fatal("-32601 should surface as an error")
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (contract violations are not transient)", calls.Load())
	}
}

func TestClientCircuitFastFails(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	circuit := config.CircuitConfig{FailureThreshold: 2, ResetTimeoutS: 60, SuccessThreshold: 1}
	c := NewClient(config.RetryConfig{MaxAttempts: 1, InitialDelayS: 0.01, Multiplier: 1}, circuit, zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := c.Call(context.Background(), ts.URL, "assign_match", struct{}{}, nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	before := calls.Load()
	err := c.Call(context.Background(), ts.URL, "assign_match", struct{}{}, nil)
	if err == nil {
		t.Fatal("open circuit should fail")
	}
	if calls.Load() != before {
		t.Error("open circuit must not reach the wire")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error should identify the open circuit: %v", err)
	}
}
