package secure

import (
	"bytes"
	"testing"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"inputs file bytes", []byte("admin_password: hunter2\n")},
		{"empty data", []byte{}},
		{"binary data", []byte{0x00, 0xFF, 0x10, 0x20}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf, err := NewSecureBuffer(tt.data)
			if err != nil {
				t.Fatalf("NewSecureBuffer() error = %v", err)
			}
			buf.Destroy()
		})
	}
}

func TestSecureBufferRoundTrip(t *testing.T) {
	t.Parallel()

	// memguard wipes the source slice, keep a copy for comparison.
	secretStr := "admin_api_key: SG.admin-key\n"
	secret := []byte(secretStr)
	expected := []byte(secretStr)

	buf, err := NewSecureBuffer(secret)
	if err != nil {
		t.Fatalf("NewSecureBuffer() error = %v", err)
	}
	defer buf.Destroy()

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer locked.Destroy()

	if !bytes.Equal(locked.Bytes(), expected) {
		t.Errorf("Open() returned %q, want %q", locked.Bytes(), expected)
	}
}

func TestSecureBufferDestroyIdempotent(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("secret"))
	if err != nil {
		t.Fatalf("NewSecureBuffer() error = %v", err)
	}

	buf.Destroy()
	buf.Destroy()

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("Open() after Destroy error = %v", err)
	}
	defer locked.Destroy()

	if len(locked.Bytes()) != 0 {
		t.Errorf("Open() after Destroy returned %d bytes, want 0", len(locked.Bytes()))
	}
}
