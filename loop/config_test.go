//go:build linux

package loop

import (
	"strings"
	"testing"
)

func nopInit() SessionInitializer {
	return InitializerFunc(func(sess *Session) error { return nil })
}

func TestBuildRequiresInitializer(t *testing.T) {
	_, err := NewBuilder().Build()
	if err == nil || !strings.Contains(err.Error(), "initializer") {
		t.Fatalf("expected initializer error, got %v", err)
	}
}

func TestBuildValidation(t *testing.T) {
	cases := map[string]func(*Builder) *Builder{
		"maxConns":        func(b *Builder) *Builder { return b.SetMaxConns(0) },
		"maxReadBuffers":  func(b *Builder) *Builder { return b.SetMaxReadBuffers(0) },
		"maxWriteBuffers": func(b *Builder) *Builder { return b.SetMaxWriteBuffers(0) },
		"writeSpinCount":  func(b *Builder) *Builder { return b.SetWriteSpinCount(0) },
		"bufferSize":      func(b *Builder) *Builder { return b.SetBufferSize(1000) },
		"storeSize":       func(b *Builder) *Builder { return b.SetStoreSize(1 << 40) },
		"timeouts":        func(b *Builder) *Builder { return b.SetReadTimeout(0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := mutate(NewBuilder().SetServerInitializer(nopInit()))
			if _, err := b.Build(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBuildDefaultsAndResources(t *testing.T) {
	config, err := NewBuilder().
		SetServerInitializer(nopInit()).
		SetBufferSize(4096).
		SetPoolSize(1 << 20).
		SetStoreSize(1 << 20).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() {
		config.BufferStore().Close()
		config.BufferPool().Close()
	}()

	if config.MaxServerConns() != config.MaxConns() || config.MaxClientConns() != config.MaxConns() {
		t.Error("per-side conns must default to maxConns")
	}
	if config.BufferPool() == nil || !config.BufferPool().IsOpen() {
		t.Error("pool not constructed")
	}
	if config.BufferStore() == nil || !config.BufferStore().IsOpen() {
		t.Error("store not constructed")
	}
	if config.BufferPool().SizeShift() != 12 {
		t.Errorf("sizeShift = %d", config.BufferPool().SizeShift())
	}
	if config.Host() != "0.0.0.0" || config.Port() != 9696 || config.Backlog() != 1024 {
		t.Error("address defaults wrong")
	}
	if config.MaxReadBuffers() != 8 || config.MaxWriteBuffers() != 64 || config.WriteSpinCount() != 16 {
		t.Error("buffering defaults wrong")
	}
}

func TestBuilderDetachesAfterBuild(t *testing.T) {
	b := NewBuilder().
		SetServerInitializer(nopInit()).
		SetBufferSize(4096).
		SetPoolSize(1 << 20).
		SetStoreSize(1 << 20)
	config, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() {
		config.BufferStore().Close()
		config.BufferPool().Close()
	}()

	b.SetPort(1)
	if config.Port() == 1 {
		t.Error("builder mutated a built config")
	}
}
