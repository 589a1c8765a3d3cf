package tool

import (
	"context"
	"errors"
	"testing"
)

var errTransient = errors.New("transient failure")

func okTool(kind Kind, data map[string]any) Capability {
	return Func{ToolKind: kind, Run: func(ctx context.Context, params map[string]any) (Result, error) {
		return Result{Success: true, Data: data}, nil
	}}
}

func failTool(kind Kind, err error) Capability {
	return Func{ToolKind: kind, Run: func(ctx context.Context, params map[string]any) (Result, error) {
		return Result{}, err
	}}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("encode_audio", okTool(KindEncoder, map[string]any{"bitrate": 192})); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Execute(context.Background(), "encode_audio", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("x", okTool(KindAnalyzer, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("x", okTool(KindAnalyzer, nil)); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestFallbackChainMatchesTypedError(t *testing.T) {
	chain := Chain{
		Primary: failTool(KindDownloader, errTransient),
		Fallbacks: []Fallback{
			{
				Name:  "never",
				Match: func(err error) bool { return false },
				Run:   failTool(KindDownloader, errors.New("should not run")),
			},
			{
				Name:  "mirror",
				Match: func(err error) bool { return errors.Is(err, errTransient) },
				Run:   okTool(KindDownloader, map[string]any{"source": "mirror"}),
			},
		},
	}

	res, err := chain.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatal("expected fallback success")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected fallback warning, got %v", res.Warnings)
	}
}

func TestFallbackChainExhausted(t *testing.T) {
	chain := Chain{
		Primary: failTool(KindDownloader, errTransient),
		Fallbacks: []Fallback{
			{
				Name:  "also-broken",
				Match: func(err error) bool { return errors.Is(err, errTransient) },
				Run:   failTool(KindDownloader, errTransient),
			},
		},
	}

	_, err := chain.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error after exhausting fallbacks")
	}
}
