package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: "6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e10", want: true},
		{id: "6C1E1C6B-8D3C-4F6E-9A0E-3D2B8A7F9E10", want: true},
		{id: "", want: false},
		{id: "lol", want: false},
		{id: "{6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e10}", want: false},
		{id: "urn:uuid:6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e10", want: false},
		{id: "6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e1z", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUUID(tt.id))
		})
	}
}
