package main

import (
	"testing"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     appconfig.Config
		wantErr bool
	}{
		{"memory queue", appconfig.Config{QueueBackend: "memory", StoreBackend: "postgres"}, true},
		{"memory store", appconfig.Config{QueueBackend: "sqs", StoreBackend: "memory"}, true},
		{"sqs and postgres", appconfig.Config{QueueBackend: "sqs", StoreBackend: "postgres"}, false},
		{"redis and postgres", appconfig.Config{QueueBackend: "redis", StoreBackend: "postgres"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validate(&tt.cfg); (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
