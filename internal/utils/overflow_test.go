package utils

import (
	"math"
	"strings"
	"testing"
)

func TestCheckMultiplyOverflow(t *testing.T) {
	tests := []struct {
		name    string
		a       uint64
		b       uint64
		wantErr bool
	}{
		{name: "no overflow - small numbers", a: 10, b: 20, wantErr: false},
		{name: "no overflow - one zero", a: 0, b: math.MaxUint64, wantErr: false},
		{name: "no overflow - both zero", a: 0, b: 0, wantErr: false},
		{name: "overflow - max * 2", a: math.MaxUint64, b: 2, wantErr: true},
		{name: "overflow - large numbers", a: math.MaxUint64 / 2, b: 3, wantErr: true},
		{name: "no overflow - exact max", a: math.MaxUint64, b: 1, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMultiplyOverflow(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckMultiplyOverflow(%d, %d) error = %v, wantErr %v", tt.a, tt.b, err, tt.wantErr)
			}
		})
	}
}

func TestSafeMultiply(t *testing.T) {
	tests := []struct {
		name    string
		a       uint64
		b       uint64
		want    uint64
		wantErr bool
	}{
		{name: "normal multiplication", a: 10, b: 20, want: 200, wantErr: false},
		{name: "zero multiplication", a: 0, b: 100, want: 0, wantErr: false},
		{name: "overflow", a: math.MaxUint64, b: 2, want: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeMultiply(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Errorf("SafeMultiply(%d, %d) error = %v, wantErr %v", tt.a, tt.b, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SafeMultiply(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSafeAdd(t *testing.T) {
	tests := []struct {
		name    string
		a       uint64
		b       uint64
		want    uint64
		wantErr bool
	}{
		{name: "normal addition", a: 100, b: 200, want: 300, wantErr: false},
		{name: "exact max", a: math.MaxUint64, b: 0, want: math.MaxUint64, wantErr: false},
		{name: "overflow by one", a: math.MaxUint64, b: 1, want: 0, wantErr: true},
		{name: "overflow - large offset plus length", a: math.MaxUint64 - 10, b: 20, want: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeAdd(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Errorf("SafeAdd(%d, %d) error = %v, wantErr %v", tt.a, tt.b, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SafeAdd(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValidateBufferSize(t *testing.T) {
	tests := []struct {
		name        string
		size        uint64
		maxSize     uint64
		description string
		wantErr     bool
		errContains string
	}{
		{name: "valid size", size: 1000, maxSize: 10000, description: "test buffer", wantErr: false},
		{name: "exact max", size: 10000, maxSize: 10000, description: "test buffer", wantErr: false},
		{name: "zero size allowed", size: 0, maxSize: 10000, description: "test buffer", wantErr: false},
		{
			name: "exceeds max", size: 10001, maxSize: 10000, description: "test buffer",
			wantErr: true, errContains: "exceeds maximum",
		},
		{
			name: "declared patch size over the 256 MiB ceiling", size: 300 * 1024 * 1024, maxSize: MaxPatchSize,
			description: "declared target size", wantErr: true, errContains: "exceeds maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBufferSize(tt.size, tt.maxSize, tt.description)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBufferSize(%d, %d, %q) error = %v, wantErr %v", tt.size, tt.maxSize, tt.description, err, tt.wantErr)
				return
			}
			if err != nil && tt.errContains != "" {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("ValidateBufferSize(%d, %d, %q) error = %v, want error containing %q", tt.size, tt.maxSize, tt.description, err, tt.errContains)
				}
			}
		})
	}
}

func TestValidateRecordBounds(t *testing.T) {
	tests := []struct {
		name        string
		offset      uint64
		length      uint64
		bufSize     uint64
		wantErr     bool
		errContains string
	}{
		{name: "within bounds", offset: 10, length: 20, bufSize: 100, wantErr: false},
		{name: "exact end", offset: 80, length: 20, bufSize: 100, wantErr: false},
		{name: "unbounded when bufSize is zero", offset: 1 << 40, length: 100, bufSize: 0, wantErr: false},
		{
			name: "overrun declared buffer", offset: 90, length: 20, bufSize: 100,
			wantErr: true, errContains: "overruns buffer",
		},
		{
			name: "offset+length overflow", offset: math.MaxUint64 - 5, length: 10, bufSize: 0,
			wantErr: true, errContains: "overflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecordBounds(tt.offset, tt.length, tt.bufSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecordBounds(%d, %d, %d) error = %v, wantErr %v", tt.offset, tt.length, tt.bufSize, err, tt.wantErr)
				return
			}
			if err != nil && tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateRecordBounds(%d, %d, %d) error = %v, want error containing %q", tt.offset, tt.length, tt.bufSize, err, tt.errContains)
			}
		})
	}
}
