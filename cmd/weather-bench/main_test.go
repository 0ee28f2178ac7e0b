package main

import "testing"

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name                          string
		concurrency, requests, cities int
		wantErr                       bool
	}{
		{"defaults", 50, 100000, 100, false},
		{"single request", 1, 1, 1, false},
		{"zero concurrency", 0, 100, 10, true},
		{"negative concurrency", -1, 100, 10, true},
		{"fewer requests than callers", 10, 5, 10, true},
		{"zero requests", 1, 0, 10, true},
		{"zero cities", 1, 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.concurrency, tt.requests, tt.cities)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateFlags(%d, %d, %d) = %v, wantErr %v",
					tt.concurrency, tt.requests, tt.cities, err, tt.wantErr)
			}
		})
	}
}
