package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds sensitive bytes (admin credentials read from an inputs
// file) in an encrypted memguard enclave so plaintext never sits idle on the
// heap. Open returns a locked buffer the caller must Destroy after use.
type SecureBuffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewSecureBuffer copies data into a protected memory region. The caller
// should zero the original slice once this returns.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
	}, nil
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned buffer when done:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	raw := locked.Bytes()
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}

	return s.enclave.Open()
}

// Destroy marks the buffer as unusable. Idempotent; after Destroy, Open
// returns an empty buffer. Call memguard.Purge() at process exit for full
// cleanup of all enclaves.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	s.enclave = nil
	s.destroyed = true
}
