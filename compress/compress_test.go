package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGzipRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		level int
	}{
		{
			name:  "empty input",
			data:  []byte{},
			level: 6,
		},
		{
			name:  "small text",
			data:  []byte("Hello World"),
			level: 6,
		},
		{
			name:  "repetitive text",
			data:  []byte(strings.Repeat("meal plan week 1 ", 512)),
			level: 9,
		},
		{
			name:  "level out of range falls back to default",
			data:  []byte("Hello World"),
			level: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Gzip(tt.data, tt.level)
			assert.NoError(t, err)
			got, err := Gunzip(compressed)
			assert.NoError(t, err)
			if !bytes.Equal(got, tt.data) {
				t.Errorf("Gunzip(Gzip()) = %v, want %v", got, tt.data)
			}
		})
	}
}

func TestGzipShrinksRepetitiveData(t *testing.T) {
	data := []byte(strings.Repeat("training session ", 1024))
	compressed, err := Gzip(data, 6)
	assert.NoError(t, err)
	assert.Less(t, len(compressed), len(data))
}

func TestGunzip(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{
			name:    "empty input",
			data:    []byte{},
			want:    []byte{},
			wantErr: true,
		},
		{
			name:    "valid gzip data",
			data:    []byte{31, 139, 8, 0, 0, 0, 0, 0, 0, 255, 242, 72, 205, 201, 201, 87, 8, 207, 47, 202, 73, 1, 4, 0, 0, 255, 255, 86, 177, 23, 74, 11, 0, 0, 0},
			want:    []byte("Hello World"),
			wantErr: false,
		},
		{
			name:    "invalid gzip data",
			data:    []byte{1, 2, 3, 4},
			want:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Gunzip(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Gunzip() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("Gunzip() = %v, want %v", got, tt.want)
			}
		})
	}
}
