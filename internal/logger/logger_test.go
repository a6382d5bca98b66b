package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env     string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{env: "prod", want: zapcore.InfoLevel},
		{env: "local", want: zapcore.DebugLevel},
		{env: "test", level: "warn", want: zapcore.WarnLevel},
		{env: "docker", level: "error", want: zapcore.ErrorLevel},
		{env: "staging", wantErr: true},
		{env: "local", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			l, err := NewLogger(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if !l.Core().Enabled(tt.want) {
				t.Errorf("level %v not enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1) {
				t.Errorf("level below %v should be disabled", tt.want)
			}
		})
	}
}

func TestContextLogger(t *testing.T) {
	base := zap.NewExample()
	fallback := zap.NewNop()

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must never return nil")
	}
	if got := FromContextOr(context.Background(), fallback); got != fallback {
		t.Error("FromContextOr should return the fallback for a bare context")
	}

	ctx := ContextWithLogger(context.Background(), base)
	if FromContext(ctx) != base || FromContextOr(ctx, fallback) != base {
		t.Error("stored logger not returned")
	}
}
