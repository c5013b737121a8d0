// Package secure provides memory-safe handling of sensitive data and
// generation of random credential material.
//
// SecureBuffer wraps memguard enclaves so secrets read from disk (admin
// credentials in an inputs file) are encrypted at rest in memory, protected
// from swapping via mlock, and wiped on destruction:
//
//	buf, err := secure.NewSecureBuffer(raw)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	use(locked.Bytes())
//
// Generator draws entropy from the kernel CSPRNG through a memguard locked
// buffer and maps it onto a 64-character password alphabet, so generated
// passwords and API key names are uniform and never touch unprotected heap
// memory in raw form.
//
// Memory locking requires RLIMIT_MEMLOCK headroom on Linux; when mlock is
// unavailable memguard degrades to standard allocation. None of this guards
// against an attacker with root on the running host.
package secure
