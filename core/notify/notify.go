// Package notify collects user-facing notices raised while serving a request.
package notify

import (
	"context"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

type Notices struct {
	mu   sync.Mutex
	list []Notice
}

func (n *Notices) add(level Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, Notice{Level: level, Message: msg})
}

func (n *Notices) List() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, len(n.list))
	copy(out, n.list)
	return out
}

type ctxKey int

const noticesKey ctxKey = 1

func New(ctx context.Context) (context.Context, *Notices) {
	n := &Notices{}
	return context.WithValue(ctx, noticesKey, n), n
}

func from(ctx context.Context) *Notices {
	n, _ := ctx.Value(noticesKey).(*Notices)
	return n
}

// Add records a notice. It is dropped when the context carries no collector.
func Add(ctx context.Context, level Level, msg string) {
	if msg == "" {
		return
	}
	if n := from(ctx); n != nil {
		n.add(level, msg)
	}
}

func Info(ctx context.Context, msg string)    { Add(ctx, LevelInfo, msg) }
func Success(ctx context.Context, msg string) { Add(ctx, LevelSuccess, msg) }
func Warn(ctx context.Context, msg string)    { Add(ctx, LevelWarning, msg) }
func Error(ctx context.Context, msg string)   { Add(ctx, LevelError, msg) }

func List(ctx context.Context) []Notice {
	n := from(ctx)
	if n == nil {
		return []Notice{}
	}
	return n.List()
}
